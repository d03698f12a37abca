package job

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/recotune/recotune/api"
	"github.com/recotune/recotune/internal/candidate"
	"github.com/recotune/recotune/internal/event"
	"github.com/recotune/recotune/internal/jobstate"
	"github.com/recotune/recotune/internal/testutil"
	"github.com/stretchr/testify/suite"
)

const definitions = `
apiVersion: v1
kind: TuningJob
metadata:
  alias: first
spec:
  data: a.csv
  trials: 2
  memoryBudget: 64MiB
---
---
apiVersion: v1
kind: TuningJob
metadata:
  alias: second
spec:
  data: b.csv
  trials: 3
  memoryBudget: 1GiB
  candidates: [ease]
`

type JobCmdTestSuite struct {
	suite.Suite
	srv *httptest.Server
	dir string
}

func (s *JobCmdTestSuite) SetupTest() {
	jobs := jobstate.New(testutil.OpenTestDB(s.T()))
	s.srv = httptest.NewServer(api.New(jobs, event.New(), candidate.DefaultRegistry().Names()))
	s.dir = s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "jobs.yaml"), []byte(definitions), 0o644))
	s.Require().NoError(os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("ignored"), 0o644))
}

func (s *JobCmdTestSuite) TearDownTest() {
	s.srv.Close()
	submitPaths, listStatus, listLimit, listJSON = nil, "", 0, false
}

func (s *JobCmdTestSuite) run(args ...string) (string, error) {
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&out)
	Cmd.SetArgs(append([]string{"--server", s.srv.URL}, args...))
	err := Cmd.Execute()
	return out.String(), err
}

func (s *JobCmdTestSuite) TestSubmitListGet() {
	out, err := s.run("submit", "-p", s.dir)
	s.Require().NoError(err, out)
	s.Contains(out, "Submitted job 1 (first)")
	s.Contains(out, "Submitted job 2 (second)")

	out, err = s.run("list")
	s.Require().NoError(err, out)
	s.Contains(out, "ALIAS")
	s.Contains(out, "first")
	s.Contains(out, "PENDING")

	out, err = s.run("list", "--status", "completed", "--json")
	s.Require().NoError(err, out)
	s.Equal("[]\n", out)

	out, err = s.run("get", "2")
	s.Require().NoError(err, out)
	s.Contains(out, `"alias": "second"`)
	s.Contains(out, `"memory_budget": 1073741824`)
}

func (s *JobCmdTestSuite) TestSubmitRejectsBadFiles() {
	_, err := s.run("submit", "-p", filepath.Join(s.dir, "notes.txt"))
	s.ErrorContains(err, "not a YAML file")

	bad := filepath.Join(s.dir, "bad.yml")
	s.Require().NoError(os.WriteFile(bad, []byte("apiVersion: v1\nkind: TuningJob\n"), 0o644))
	_, err = s.run("submit", "-p", bad)
	s.ErrorContains(err, "metadata.alias")
}

func (s *JobCmdTestSuite) TestGetErrors() {
	_, err := s.run("get", "abc")
	s.ErrorContains(err, "invalid job id")

	_, err = s.run("get", "9")
	s.ErrorContains(err, "404")
}

func TestJobCmdTestSuite(t *testing.T) {
	suite.Run(t, new(JobCmdTestSuite))
}
