package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	meta        Metadata
	collectErr  error
	validateErr error
	saveErr     error
	records     []map[string]interface{}
	collectWait time.Duration
	gotParams   map[string]interface{}
}

func (f *fakeExec) Metadata() Metadata { return f.meta }

func (f *fakeExec) Collect(ctx context.Context, params map[string]interface{}) ([]map[string]interface{}, error) {
	f.gotParams = params
	if f.collectWait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.collectWait):
		}
	}
	return f.records, f.collectErr
}

func (f *fakeExec) Validate(records []map[string]interface{}) ([]map[string]interface{}, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if len(records) > 1 {
		return records[:len(records)-1], nil
	}
	return records, nil
}

func (f *fakeExec) Save(ctx context.Context, records []map[string]interface{}) (int, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	return len(records), nil
}

func twoRecords() []map[string]interface{} {
	return []map[string]interface{}{{"code": "600000"}, {"code": "000001"}}
}

func TestRunHappyPath(t *testing.T) {
	exec := &fakeExec{meta: Metadata{TaskID: "t1"}, records: twoRecords()}

	var stages []Stage
	result, err := Run(context.Background(), exec, nil, RunOptions{
		OnProgress: func(p Progress) { stages = append(stages, p.Stage) },
	})
	require.NoError(t, err)

	assert.Equal(t, StageCompleted, result.Stage)
	assert.Equal(t, 2, result.RecordsFetched)
	assert.Equal(t, 1, result.RecordsValid)
	assert.Equal(t, 1, result.RecordsSaved)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []Stage{StageCollecting, StageValidating, StageSaving, StageCompleted}, stages)
}

func TestRunCollectFailure(t *testing.T) {
	exec := &fakeExec{meta: Metadata{TaskID: "t1"}, collectErr: errors.New("upstream down")}

	result, err := Run(context.Background(), exec, nil, RunOptions{})
	require.NoError(t, err, "phase failures fold into the result")
	assert.Equal(t, StageFailed, result.Stage)
	assert.Contains(t, result.Error, "upstream down")
	assert.Zero(t, result.RecordsSaved)
}

func TestRunSaveFailureKeepsCounts(t *testing.T) {
	exec := &fakeExec{meta: Metadata{TaskID: "t1"}, records: twoRecords(), saveErr: errors.New("db down")}

	result, err := Run(context.Background(), exec, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StageFailed, result.Stage)
	assert.Equal(t, 2, result.RecordsFetched)
	assert.Equal(t, 1, result.RecordsValid)
	assert.Zero(t, result.RecordsSaved)
}

func TestRunTimeoutCancels(t *testing.T) {
	exec := &fakeExec{meta: Metadata{TaskID: "slow"}, collectWait: time.Second}

	result, err := Run(context.Background(), exec, nil, RunOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, StageCancelled, result.Stage)
}

func TestRunRejectsBadParams(t *testing.T) {
	exec := &fakeExec{meta: Metadata{
		TaskID: "t1",
		Parameters: []Parameter{
			{Name: "market", Required: true, Choices: []string{"SH", "SZ"}},
		},
	}}

	_, err := Run(context.Background(), exec, nil, RunOptions{})
	assert.Error(t, err, "missing required parameter")

	_, err = Run(context.Background(), exec, map[string]interface{}{"market": "NYSE"}, RunOptions{})
	assert.Error(t, err, "value outside choices")
}

func TestRunAppliesDefaults(t *testing.T) {
	exec := &fakeExec{
		meta: Metadata{
			TaskID: "t1",
			Parameters: []Parameter{
				{Name: "frequency", Default: "daily"},
			},
		},
		records: twoRecords(),
	}

	_, err := Run(context.Background(), exec, map[string]interface{}{}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "daily", exec.gotParams["frequency"])
}

func TestRegistryListOrdering(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeExec{meta: Metadata{TaskID: "c", Name: "zeta", Priority: 1, Category: "quote"}}))
	require.NoError(t, r.Register(&fakeExec{meta: Metadata{TaskID: "a", Name: "alpha", Priority: 2, Category: "quote"}}))
	require.NoError(t, r.Register(&fakeExec{meta: Metadata{TaskID: "b", Name: "beta", Priority: 1, Category: "news"}}))

	all := r.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].TaskID, "priority 1, beta before zeta")
	assert.Equal(t, "c", all[1].TaskID)
	assert.Equal(t, "a", all[2].TaskID)

	quotes := r.List("quote")
	require.Len(t, quotes, 2)

	assert.Equal(t, []string{"news", "quote"}, r.Categories())
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("ghost")
	assert.Error(t, err)
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&fakeExec{meta: Metadata{}}))
}

func TestValidateParamsUnknownKeysPass(t *testing.T) {
	meta := Metadata{TaskID: "t", Parameters: []Parameter{{Name: "known"}}}
	err := meta.ValidateParams(map[string]interface{}{"extra": 1})
	assert.NoError(t, err)
}
