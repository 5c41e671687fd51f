package evaluators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbeamlabs/forgecore/pkg/testutils"
	"github.com/zbeamlabs/forgecore/pkg/utils"
)

func TestRegistry_RegisterGetAll(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(StructuralName)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)

	s := NewStructuralDiversityEvaluator()
	r.Register(s)

	got, err := r.Get(StructuralName)
	require.NoError(t, err)
	assert.Same(t, s, got)

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, StructuralName, all[0].Name())
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStructuralDiversityEvaluator())
	r.Register(NewStructuralDiversityEvaluator())
	assert.Len(t, r.All(), 1)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-0.5))
	assert.Equal(t, 1.0, clampScore(1.5))
	assert.Equal(t, 0.42, clampScore(0.42))
}

func TestStructuralDiversityEvaluator_Pass(t *testing.T) {
	e := NewStructuralDiversityEvaluator()
	result, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "A fresh opening line leads into the rest of the paragraph.", Context{
		Domain:    "blog",
		Component: "intro",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, true, result.Details["pass"])
}

func TestStructuralDiversityEvaluator_RepeatedOpener(t *testing.T) {
	e := NewStructuralDiversityEvaluator()
	result, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "In today's fast-paced world, everything moves quickly.", Context{
		Domain:        "blog",
		Component:     "intro",
		RecentOpeners: utils.NewStringSet("In today's fast-paced world, nothing stands still."),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
	reasons, _ := result.Details["reasons"].([]string)
	assert.NotEmpty(t, reasons)
}

func TestStructuralDiversityEvaluator_ForbiddenPhrase(t *testing.T) {
	e := NewStructuralDiversityEvaluator()
	result, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "This is a game changer for everyone involved.", Context{
		Domain:           "blog",
		Component:        "intro",
		ForbiddenPhrases: utils.NewStringSet("game changer"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
}

func TestStructuralDiversityEvaluator_StructuralHintMismatch(t *testing.T) {
	e := NewStructuralDiversityEvaluator()
	result, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "no terminal punctuation here", Context{
		Domain:         "blog",
		Component:      "intro",
		StructuralHint: "2-3 sentences",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
}

func TestHumanLikenessEvaluator_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req detectionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sample text", req.Text)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(detectionResponse{HumanPercent: 82.5, SentenceScores: []float64{0.8, 0.9}}))
	}))
	defer srv.Close()

	e := NewHumanLikenessEvaluator(srv.URL, time.Second)
	result, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "sample text", Context{Domain: "blog", Component: "intro"})
	require.NoError(t, err)
	assert.InDelta(t, 0.825, result.Score, 0.0001)
}

func TestHumanLikenessEvaluator_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHumanLikenessEvaluator(srv.URL, time.Second)
	_, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "sample text", Context{Domain: "blog", Component: "intro"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestHumanLikenessEvaluator_ClampsOutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(detectionResponse{HumanPercent: 130}))
	}))
	defer srv.Close()

	e := NewHumanLikenessEvaluator(srv.URL, time.Second)
	result, err := e.Evaluate(context.Background(), testutils.NewTestLogger(t), "sample text", Context{Domain: "blog", Component: "intro"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Score)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean json", in: `{"a":1}`, want: `{"a":1}`},
		{name: "prose wrapped", in: "Sure, here it is:\n{\"a\":1}\nHope that helps!", want: `{"a":1}`},
		{name: "no braces", in: "no json here", want: "no json here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestJudgeParameters(t *testing.T) {
	_, err := judgeParameters()
	require.NoError(t, err)
}
