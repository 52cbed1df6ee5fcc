package structured

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/project-tktt/offer-collector/internal/domain"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *mockModel) Name() string { return "mock" }

type memCache struct {
	mu   sync.Mutex
	data map[string]domain.StructuredAttributes
}

func newMemCache() *memCache {
	return &memCache{data: map[string]domain.StructuredAttributes{}}
}

func (c *memCache) Get(_ context.Context, text string) (domain.StructuredAttributes, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.data[text]
	return a, ok, nil
}

func (c *memCache) Set(_ context.Context, text string, attrs domain.StructuredAttributes) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[text] = attrs
	return nil
}

func fastRetry() Option {
	return WithRetry(RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

var dataText = domain.ExtractedText{
	MissionText:       "Vous rejoignez l'équipe Data Scientist pour construire des modèles.",
	ProfileText:       "Python, SQL, esprit d'équipe.",
	RawExperienceText: "Exp. 3 ans min.",
}

const validResponse = `{"hard_skills": ["SQL", "Python", "python"], "soft_skills": ["Esprit d'équipe"],
	"years_experience_min": 2, "domains": ["Data", "data", "Finance"]}`

func TestExtract_Success(t *testing.T) {
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "mission: Vous rejoignez") && strings.Contains(p, "\nprofil recherché: Python")
	})).Return(validResponse, nil).Once()

	e := NewExtractor(m, fastRetry())
	res, err := e.Extract(context.Background(), Input{Text: dataText, Keyword: "data scientist"})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExtracted, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"python", "sql"}, res.Attributes.HardSkills)
	assert.Equal(t, []string{"esprit d'équipe"}, res.Attributes.SoftSkills)
	assert.Equal(t, []string{"Data", "Finance"}, res.Attributes.Domains)
	require.NotNil(t, res.Attributes.MinYearsExperience)
	assert.Equal(t, 2, *res.Attributes.MinYearsExperience)
	m.AssertExpectations(t)
}

func TestExtract_NullYearsUsesFallback(t *testing.T) {
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).
		Return(`{"hard_skills": ["Python"], "soft_skills": [], "years_experience_min": null, "domains": []}`, nil)

	res, err := NewExtractor(m, fastRetry()).Extract(context.Background(), Input{Text: dataText})
	require.NoError(t, err)
	require.NotNil(t, res.Attributes.MinYearsExperience)
	assert.Equal(t, 3, *res.Attributes.MinYearsExperience)
}

func TestExtract_RetriesUntilValid(t *testing.T) {
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return("not json", nil).Once()
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return(`{"hard_skills": [], "soft_skills": []}`, nil).Once()
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return("", errors.New("503 overloaded")).Once()
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return(validResponse, nil).Once()

	res, err := NewExtractor(m, fastRetry()).Extract(context.Background(), Input{Text: dataText})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExtracted, res.Outcome)
	assert.Equal(t, 4, res.Attempts)
	m.AssertNumberOfCalls(t, "GenerateJSON", 4)
}

func TestExtract_ExhaustedKeepsFallbackYears(t *testing.T) {
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return(`{"hard_skills": ["go"]}`, nil)

	res, err := NewExtractor(m, fastRetry()).Extract(context.Background(), Input{Text: dataText})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, []string{}, res.Attributes.HardSkills)
	assert.Equal(t, []string{}, res.Attributes.SoftSkills)
	assert.Equal(t, []string{}, res.Attributes.Domains)
	require.NotNil(t, res.Attributes.MinYearsExperience)
	assert.Equal(t, 3, *res.Attributes.MinYearsExperience)
	m.AssertNumberOfCalls(t, "GenerateJSON", 5)
}

func TestExtract_ExhaustedWithoutFallback(t *testing.T) {
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return("{", nil)

	text := dataText
	text.RawExperienceText = ""
	res, err := NewExtractor(m, fastRetry()).Extract(context.Background(), Input{Text: text})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Nil(t, res.Attributes.MinYearsExperience)
}

func TestExtract_IrrelevantSkipsModel(t *testing.T) {
	m := &mockModel{}
	res, err := NewExtractor(m, fastRetry()).Extract(context.Background(), Input{Text: dataText, Keyword: "Comptable"})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeIrrelevant, res.Outcome)
	assert.False(t, res.Attributes.HasSkills())
	assert.NotNil(t, res.Attributes.Domains)
	m.AssertNotCalled(t, "GenerateJSON", mock.Anything, mock.Anything)
}

func TestExtract_NoContentSkipsModel(t *testing.T) {
	m := &mockModel{}
	res, err := NewExtractor(m, fastRetry()).Extract(context.Background(), Input{
		Text: domain.ExtractedText{RawExperienceText: "Exp. 5 ans"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeNoContent, res.Outcome)
	assert.False(t, res.Attributes.HasSkills())
	require.NotNil(t, res.Attributes.MinYearsExperience)
	assert.Equal(t, 5, *res.Attributes.MinYearsExperience)
	m.AssertNotCalled(t, "GenerateJSON", mock.Anything, mock.Anything)
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	_, err := NewExtractor(m, fastRetry()).Extract(ctx, Input{Text: dataText})
	assert.Error(t, err)
	m.AssertNumberOfCalls(t, "GenerateJSON", 1)
}

func TestExtract_Cache(t *testing.T) {
	cache := newMemCache()
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return(validResponse, nil).Once()

	e := NewExtractor(m, fastRetry(), WithCache(cache))
	first, err := e.Extract(context.Background(), Input{Text: dataText})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Extract(context.Background(), Input{Text: dataText})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Attributes, second.Attributes)
	m.AssertNumberOfCalls(t, "GenerateJSON", 1)
}

func TestExtract_FailureNotCached(t *testing.T) {
	cache := newMemCache()
	m := &mockModel{}
	m.On("GenerateJSON", mock.Anything, mock.Anything).Return("[]", nil)

	_, err := NewExtractor(m, fastRetry(), WithCache(cache)).Extract(context.Background(), Input{Text: dataText})
	require.NoError(t, err)
	assert.Empty(t, cache.data)
}

func TestRetryConfigBackoff(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}.withDefaults()
	cfg.JitterFraction = 0

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.backoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 300*time.Millisecond, cfg.backoff(4))
}
