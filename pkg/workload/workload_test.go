package workload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/batsim-go/batsim/pkg/model"
	"github.com/stretchr/testify/require"
)

const sampleWorkload = `{
  "jobs": [
    {"id": 0, "subtime": 10, "walltime": 100, "res": 2, "profile": "delay10"},
    {"id": 1, "subtime": 20, "walltime": -1, "res": 1, "profile": "delay10"}
  ],
  "profiles": {
    "delay10": {"type": "delay", "delay": 10}
  }
}`

func writeWorkload(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wl.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesJobsAndProfiles(t *testing.T) {
	path := writeWorkload(t, sampleWorkload)
	w, err := Load("static", path)
	require.NoError(t, err)

	job, err := w.Job(0)
	require.NoError(t, err)
	require.Equal(t, 2, job.RequiredResources)
	require.Equal(t, 10.0, job.SubmissionTime)
	require.Equal(t, model.JobID{Workload: "static", Number: 0}, job.ID)

	prof, err := w.Profile("delay10")
	require.NoError(t, err)
	require.Equal(t, model.ProfileDelay, prof.Type)
}

func TestLoadRejectsUnknownProfile(t *testing.T) {
	path := writeWorkload(t, `{"jobs":[{"id":0,"subtime":0,"walltime":10,"res":1,"profile":"missing"}],"profiles":{}}`)
	_, err := Load("static", path)
	require.Error(t, err)
}

func TestOffsetSubmissionTimesShiftsEveryJob(t *testing.T) {
	path := writeWorkload(t, sampleWorkload)
	w, err := Load("flow", path)
	require.NoError(t, err)

	w.OffsetSubmissionTimes(5)
	j0, err := w.Job(0)
	require.NoError(t, err)
	require.Equal(t, 15.0, j0.SubmissionTime)
	j1, err := w.Job(1)
	require.NoError(t, err)
	require.Equal(t, 25.0, j1.SubmissionTime)
}

func TestOffsetSubmissionTimesZeroIsNoop(t *testing.T) {
	path := writeWorkload(t, sampleWorkload)
	w, err := Load("flow", path)
	require.NoError(t, err)

	w.OffsetSubmissionTimes(0)
	j0, err := w.Job(0)
	require.NoError(t, err)
	require.Equal(t, 10.0, j0.SubmissionTime)
}

func TestSetLookupResolvesWorkloadBangJobSyntax(t *testing.T) {
	path := writeWorkload(t, sampleWorkload)
	w, err := Load("static", path)
	require.NoError(t, err)

	set := NewSet()
	require.NoError(t, set.Add(w))

	id, err := model.ParseJobID("static!1")
	require.NoError(t, err)
	job, err := set.Lookup(id)
	require.NoError(t, err)
	require.Equal(t, 1, job.ID.Number)

	_, err = set.Lookup(model.JobID{Workload: "unknown", Number: 0})
	require.Error(t, err)
}

func TestSetAddRejectsDuplicateName(t *testing.T) {
	path := writeWorkload(t, sampleWorkload)
	w1, err := Load("static", path)
	require.NoError(t, err)
	w2, err := Load("static", path)
	require.NoError(t, err)

	set := NewSet()
	require.NoError(t, set.Add(w1))
	require.Error(t, set.Add(w2))
}

func TestProfileLookupScopesToOwningWorkload(t *testing.T) {
	path := writeWorkload(t, sampleWorkload)
	w, err := Load("static", path)
	require.NoError(t, err)
	set := NewSet()
	require.NoError(t, set.Add(w))

	lookup := set.ProfileLookup("static")
	prof, err := lookup("delay10")
	require.NoError(t, err)
	require.Equal(t, "delay10", prof.Name)

	_, err = set.ProfileLookup("nope")("delay10")
	require.Error(t, err)
}
