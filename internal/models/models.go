package models

// All lists the models migrated into the job database.
var All = []interface{}{
	&TuningJob{},
}

// StudyAll lists the models migrated into each study database.
var StudyAll = []interface{}{
	&Study{},
	&Trial{},
}
