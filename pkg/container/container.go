package container

// MountType enumerates supported mount driver types.
type MountType string

const (
	// MountTypeBind represents a bind mount from the host filesystem.
	MountTypeBind MountType = "bind"
)

// Mount describes a filesystem mount to inject into a container.
type Mount struct {
	Type     MountType `json:"type" yaml:"type"`
	Source   string    `json:"source" yaml:"source"`
	Target   string    `json:"target" yaml:"target"`
	ReadOnly bool      `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// Spec captures the runtime knobs of a trial worker regardless of
// engine. Memory is a hard limit in bytes; zero means unlimited.
type Spec struct {
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkDir string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Mounts  []Mount           `json:"mounts,omitempty" yaml:"mounts,omitempty"`
	Memory  int64             `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// HasEnv reports whether any environment variables are defined.
func (s Spec) HasEnv() bool {
	return len(s.Env) > 0
}

// HasMounts reports whether any mounts are defined.
func (s Spec) HasMounts() bool {
	return len(s.Mounts) > 0
}

// BindSame mounts path at the same location inside the container, so
// paths written into trial requests resolve on both sides.
func (s *Spec) BindSame(path string, readOnly bool) {
	s.Mounts = append(s.Mounts, Mount{
		Type:     MountTypeBind,
		Source:   path,
		Target:   path,
		ReadOnly: readOnly,
	})
}
