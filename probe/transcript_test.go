package probe

import (
	"bytes"
	"testing"

	"github.com/amanotk/hellohpc/mpi"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type rankOnly struct {
	mpi.Network
	rank int
}

func (r *rankOnly) Rank() int { return r.rank }

func TestTranscript(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTranscript(&buf, &rankOnly{rank: 0})
	tr.Printf("MPI number of processes %4d\n", 2)
	assert.NoError(t, tr.Step("creating file x.db", func() error { return nil }))
	assert.Error(t, tr.Step("creating dataset data", func() error { return errors.New("no") }))
	tr.Printf("checking data ... ")
	tr.Report(nil, "succeeded")

	want := "MPI number of processes    2\n" +
		"creating file x.db ... done\n" +
		"creating dataset data ... failed\n" +
		"checking data ... succeeded\n"
	assert.Equal(t, want, buf.String())
}

func TestTranscriptSilentOffRoot(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTranscript(&buf, &rankOnly{rank: 1})
	ran := false
	assert.NoError(t, tr.Step("writing dataset data", func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Empty(t, buf.String())
}
