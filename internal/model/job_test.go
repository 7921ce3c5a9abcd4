package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusAborted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestJobTypeValid(t *testing.T) {
	t.Parallel()

	assert.True(t, JobTypeMapGeneration.Valid())
	assert.True(t, JobTypeEnrichment.Valid())
	assert.False(t, JobType("export").Valid())
}

func TestJobSetProgressMonotonic(t *testing.T) {
	t.Parallel()

	j := &Job{}
	j.SetProgress(40)
	j.SetProgress(20)
	assert.Equal(t, 40, j.Progress)

	j.SetProgress(150)
	assert.Equal(t, 100, j.Progress)
}

func TestJobStepCreatesPending(t *testing.T) {
	t.Parallel()

	j := &Job{}
	sr := j.Step("step_1")
	require.NotNil(t, sr)
	assert.Equal(t, StepStatusPending, sr.Status)

	sr.Status = StepStatusRunning
	assert.Equal(t, StepStatusRunning, j.Step("step_1").Status)
}

func TestPlanStepDependsOn(t *testing.T) {
	t.Parallel()

	s := PlanStep{
		StepID: "step_3",
		Input: map[string]any{
			"usernames": []any{"@USE_DATA_FROM_STEP_step_1", "@USE_DATA_FROM_STEP_step_1"},
			"extra":     "@USE_DATA_FROM_STEP_step_2",
			"limit":     10,
		},
	}
	deps := s.DependsOn()
	assert.ElementsMatch(t, []string{"step_1", "step_2"}, deps)
	assert.False(t, s.Primary())

	primary := PlanStep{StepID: "step_1", Input: map[string]any{"usernames": []string{"nike"}}}
	assert.True(t, primary.Primary())
}

func TestPlanCloneIsDeep(t *testing.T) {
	t.Parallel()

	p := &Plan{
		Targets: []string{"nike"},
		Steps: []PlanStep{
			{StepID: "step_1", Input: map[string]any{"usernames": []string{"nike"}}},
		},
	}
	cp := p.Clone()
	cp.Steps[0].Input["usernames"].([]string)[0] = "adidas"
	cp.Targets[0] = "adidas"
	cp.Steps[0].EstimatedCost = 9

	assert.Equal(t, "nike", p.Steps[0].Input["usernames"].([]string)[0])
	assert.Equal(t, "nike", p.Targets[0])
	assert.Zero(t, p.Steps[0].EstimatedCost)
}

func TestPlanFullCacheHit(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Plan{}).FullCacheHit())
	assert.True(t, (&Plan{Steps: []PlanStep{{Cached: true}, {Cached: true}}}).FullCacheHit())
	assert.False(t, (&Plan{Steps: []PlanStep{{Cached: true}, {}}}).FullCacheHit())
}

func TestProfileRecordAliases(t *testing.T) {
	t.Parallel()

	raw := `{
		"ownerUsername": "@Steve_Lamacq",
		"full_name": "Steve Lamacq",
		"bio": "BBC 6 Music",
		"followers_count": "12,345",
		"postsCount": 88,
		"profile_pic_url": "https://cdn.example.com/s.jpg",
		"latestPosts": [{"shortCode": "abc", "caption": "gig tonight"}]
	}`

	var p ProfileRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "Steve_Lamacq", p.Username)
	assert.Equal(t, "steve_lamacq", p.Handle())
	assert.Equal(t, "Steve Lamacq", p.FullName)
	assert.Equal(t, "BBC 6 Music", p.Biography)
	assert.Equal(t, 12345, p.FollowersCount)
	assert.Equal(t, 88, p.MediaCount)
	assert.Equal(t, "https://cdn.example.com/s.jpg", p.ProfilePicURL)
	require.Len(t, p.LatestPosts, 1)
	assert.Equal(t, "gig tonight", p.LatestPosts[0].Caption)
	assert.True(t, p.HasBasics())
}

func TestParseGroup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Group
		ok   bool
	}{
		{"Influencer", GroupCreator, true},
		{" community ", GroupCluster, true},
		{"non_related_interest", GroupNonRelatedInterest, true},
		{"widget", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseGroup(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGroupClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, GroupCluster.Structural())
	assert.False(t, GroupCreator.Structural())
	assert.True(t, GroupBrand.ProfileBacked())
	assert.False(t, GroupHashtag.ProfileBacked())
}

func TestDatasetLatestAndStepItems(t *testing.T) {
	t.Parallel()

	d := &Dataset{Data: []DatasetRecord{
		{RecordType: RecordTypeScrapeItem, StepID: "step_1", Payload: json.RawMessage(`{"username":"a"}`)},
		{RecordType: RecordTypeGraphSnapshot, Payload: json.RawMessage(`{"v":1}`)},
		{RecordType: RecordTypeScrapeItem, StepID: "step_2", Payload: json.RawMessage(`{"username":"b"}`)},
		{RecordType: RecordTypeGraphSnapshot, Payload: json.RawMessage(`{"v":2}`)},
	}}

	snap, ok := d.Latest(RecordTypeGraphSnapshot)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(snap.Payload))

	items := d.StepItems()
	assert.Len(t, items["step_1"], 1)
	assert.Len(t, items["step_2"], 1)

	_, ok = d.Latest(RecordTypeProfileMap)
	assert.False(t, ok)
}
