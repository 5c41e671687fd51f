// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package learning persists every generation attempt - successful or not -
// to a local SQLite database, and answers the two queries the rest of the
// core depends on: the learned sweet spot for a (component, domain) pair,
// and a learned threshold's current value. Nothing here ever discards a
// logged attempt; the learning record is an append-only audit trail.
package learning

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zbeamlabs/forgecore/paramcalc"
)

// ErrLearning indicates the learning store could not complete an operation.
var ErrLearning = errors.New("learning store failure")

// schema is executed on every open; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp         TEXT NOT NULL,
	domain            TEXT NOT NULL,
	item              TEXT NOT NULL,
	component         TEXT NOT NULL,
	author_id         INTEGER NOT NULL,
	retry_session_id  TEXT NOT NULL,
	attempt_ordinal   INTEGER NOT NULL,
	is_retry          INTEGER NOT NULL,
	content           TEXT NOT NULL,
	overall_score     REAL,
	passed            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_lookup ON generations(component, domain, passed);
CREATE INDEX IF NOT EXISTS idx_generations_session ON generations(retry_session_id);

CREATE TABLE IF NOT EXISTS generation_parameters (
	generation_id      INTEGER NOT NULL UNIQUE REFERENCES generations(id),
	temperature        REAL NOT NULL,
	max_tokens         INTEGER NOT NULL,
	frequency_penalty  REAL NOT NULL,
	presence_penalty   REAL NOT NULL,
	voice_vector_json  TEXT NOT NULL,
	enrichment_json    TEXT NOT NULL,
	validation_json    TEXT NOT NULL,
	retry_json         TEXT NOT NULL,
	full_params_json   TEXT NOT NULL,
	param_hash         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_parameters_hash ON generation_parameters(param_hash);

CREATE TABLE IF NOT EXISTS evaluation_scores (
	generation_id  INTEGER NOT NULL REFERENCES generations(id),
	evaluator_name TEXT NOT NULL,
	score          REAL NOT NULL CHECK (score >= 0 AND score <= 1),
	details_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluation_scores_generation ON evaluation_scores(generation_id);

CREATE TABLE IF NOT EXISTS grok_evaluation_criteria (
	generation_id INTEGER NOT NULL REFERENCES generations(id),
	criterion_key TEXT NOT NULL,
	score         REAL NOT NULL,
	min_score     REAL NOT NULL,
	pass          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_grok_criteria_generation ON grok_evaluation_criteria(generation_id);

CREATE TABLE IF NOT EXISTS sweet_spot_samples (
	component  TEXT NOT NULL,
	domain     TEXT NOT NULL,
	param_hash TEXT NOT NULL,
	avg_score  REAL NOT NULL,
	n_samples  INTEGER NOT NULL,
	PRIMARY KEY (component, domain, param_hash)
);

CREATE TABLE IF NOT EXISTS learned_thresholds (
	name        TEXT PRIMARY KEY,
	value       REAL NOT NULL,
	n_samples   INTEGER NOT NULL,
	computed_at TEXT NOT NULL
);
`

// Store is the SQLite-backed learning store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory %q: %v", ErrLearning, dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrLearning, path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %q: %v", ErrLearning, path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrLearning, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GenerationRecord is everything log_generation persists about one attempt.
type GenerationRecord struct {
	Timestamp      time.Time
	Domain         string
	Item           string
	Component      string
	AuthorID       int
	RetrySessionID string
	AttemptOrdinal int
	IsRetry        bool
	Content        string
	OverallScore   *float64
	Passed         bool
	Params         paramcalc.GenerationParameters
}

// LogGeneration records a single generation attempt and its parameters.
// Every attempt is logged regardless of outcome, including transport
// failures (Content empty, OverallScore nil).
func (s *Store) LogGeneration(ctx context.Context, rec GenerationRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %v", ErrLearning, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO generations
			(timestamp, domain, item, component, author_id, retry_session_id,
			 attempt_ordinal, is_retry, content, overall_score, passed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Domain, rec.Item, rec.Component,
		rec.AuthorID, rec.RetrySessionID, rec.AttemptOrdinal, boolToInt(rec.IsRetry),
		rec.Content, nullableFloat(rec.OverallScore), boolToInt(rec.Passed))
	if err != nil {
		return 0, fmt.Errorf("%w: insert generation: %v", ErrLearning, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: read generation id: %v", ErrLearning, err)
	}

	voiceJSON, err := json.Marshal(rec.Params.VoiceVector)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal voice vector: %v", ErrLearning, err)
	}
	enrichmentJSON, err := json.Marshal(rec.Params.Enrichment)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal enrichment: %v", ErrLearning, err)
	}
	validationJSON, err := json.Marshal(rec.Params.Validation)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal validation: %v", ErrLearning, err)
	}
	retryJSON, err := json.Marshal(rec.Params.Retry)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal retry policy: %v", ErrLearning, err)
	}
	fullJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal parameters: %v", ErrLearning, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO generation_parameters
			(generation_id, temperature, max_tokens, frequency_penalty, presence_penalty,
			 voice_vector_json, enrichment_json, validation_json, retry_json, full_params_json, param_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Params.Temperature, rec.Params.MaxTokens, rec.Params.FrequencyPenalty, rec.Params.PresencePenalty,
		string(voiceJSON), string(enrichmentJSON), string(validationJSON), string(retryJSON), string(fullJSON),
		ParamHash(rec.Params)); err != nil {
		return 0, fmt.Errorf("%w: insert generation parameters: %v", ErrLearning, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrLearning, err)
	}
	return id, nil
}

// LogEvaluation records one evaluator's score against a generation.
func (s *Store) LogEvaluation(ctx context.Context, generationID int64, evaluatorName string, score float64, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("%w: marshal details: %v", ErrLearning, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_scores (generation_id, evaluator_name, score, details_json)
		VALUES (?, ?, ?, ?)`, generationID, evaluatorName, score, string(detailsJSON)); err != nil {
		return fmt.Errorf("%w: insert evaluation score: %v", ErrLearning, err)
	}
	return nil
}

// RubricCriterion is a single named criterion score from the rubric-realism judge.
type RubricCriterion struct {
	Key      string
	Score    float64
	MinScore float64
	Pass     bool
}

// LogRubricCriteria records the rubric judge's per-dimension breakdown.
func (s *Store) LogRubricCriteria(ctx context.Context, generationID int64, criteria []RubricCriterion) error {
	if len(criteria) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrLearning, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range criteria {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO grok_evaluation_criteria (generation_id, criterion_key, score, min_score, pass)
			VALUES (?, ?, ?, ?, ?)`, generationID, c.Key, c.Score, c.MinScore, boolToInt(c.Pass)); err != nil {
			return fmt.Errorf("%w: insert rubric criterion %q: %v", ErrLearning, c.Key, err)
		}
	}
	return tx.Commit()
}

// RecentSuccess is a single passed generation returned by RecentSuccesses.
type RecentSuccess struct {
	GenerationID int64
	Content      string
	OverallScore float64
	Timestamp    time.Time
}

// RecentSuccesses returns up to limit passed generations for (component,
// domain), most recent first - used by the structural diversity evaluator's
// recent-opener comparison and by manual inspection.
func (s *Store) RecentSuccesses(ctx context.Context, component, domain string, limit int) ([]RecentSuccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, overall_score, timestamp
		FROM generations
		WHERE component = ? AND domain = ? AND passed = 1
		ORDER BY timestamp DESC
		LIMIT ?`, component, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent successes: %v", ErrLearning, err)
	}
	defer rows.Close()

	var out []RecentSuccess
	for rows.Next() {
		var rec RecentSuccess
		var ts string
		var score sql.NullFloat64
		if err := rows.Scan(&rec.GenerationID, &rec.Content, &score, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan recent success: %v", ErrLearning, err)
		}
		rec.OverallScore = score.Float64
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SweetSpot implements paramcalc.SweetSpotLookup: the learned central
// tendency for (component, domain) once minSamples qualifying samples exist.
// It averages the temperature, frequency and presence penalties, and voice
// vector of passed attempts that share the
// single highest-sample param_hash, rather than every passed attempt ever
// logged, so a stale early-session hash does not drown out what is currently
// working.
func (s *Store) SweetSpot(ctx context.Context, component, domain string, minSamples int) (paramcalc.SweetSpotCentral, int, bool) {
	var paramHash string
	var nSamples int
	row := s.db.QueryRowContext(ctx, `
		SELECT param_hash, n_samples FROM sweet_spot_samples
		WHERE component = ? AND domain = ? AND n_samples >= ?
		ORDER BY n_samples DESC LIMIT 1`, component, domain, minSamples)
	if err := row.Scan(&paramHash, &nSamples); err != nil {
		return paramcalc.SweetSpotCentral{}, 0, false
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT gp.temperature, gp.frequency_penalty, gp.presence_penalty, gp.voice_vector_json
		FROM generation_parameters gp
		JOIN generations g ON g.id = gp.generation_id
		WHERE gp.param_hash = ? AND g.component = ? AND g.domain = ? AND g.passed = 1`,
		paramHash, component, domain)
	if err != nil {
		return paramcalc.SweetSpotCentral{}, 0, false
	}
	defer rows.Close()

	var count int
	var sumTemp, sumFreq, sumPres float64
	var sumVoice paramcalc.VoiceVector
	for rows.Next() {
		var temp, freq, pres float64
		var voiceJSON string
		if err := rows.Scan(&temp, &freq, &pres, &voiceJSON); err != nil {
			return paramcalc.SweetSpotCentral{}, 0, false
		}
		var voice paramcalc.VoiceVector
		if err := json.Unmarshal([]byte(voiceJSON), &voice); err != nil {
			return paramcalc.SweetSpotCentral{}, 0, false
		}
		sumTemp += temp
		sumFreq += freq
		sumPres += pres
		sumVoice = addVoice(sumVoice, voice)
		count++
	}
	if count == 0 {
		return paramcalc.SweetSpotCentral{}, 0, false
	}

	return paramcalc.SweetSpotCentral{
		Temperature:      sumTemp / float64(count),
		FrequencyPenalty: sumFreq / float64(count),
		PresencePenalty:  sumPres / float64(count),
		VoiceVector:      scaleVoice(sumVoice, 1.0/float64(count)),
	}, nSamples, true
}

// RecordSweetSpotSample upserts the running average for (component, domain,
// param_hash), called once per logged attempt so SweetSpot stays current
// without a separate batch job.
func (s *Store) RecordSweetSpotSample(ctx context.Context, component, domain, paramHash string, score float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweet_spot_samples (component, domain, param_hash, avg_score, n_samples)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(component, domain, param_hash) DO UPDATE SET
			avg_score = (avg_score * n_samples + excluded.avg_score) / (n_samples + 1),
			n_samples = n_samples + 1`,
		component, domain, paramHash, score)
	if err != nil {
		return fmt.Errorf("%w: upsert sweet spot sample: %v", ErrLearning, err)
	}
	return nil
}

// LearnedThreshold returns the stored value for name, or fallback if fewer
// than minSamples samples informed it (or none exist yet).
func (s *Store) LearnedThreshold(ctx context.Context, name string, minSamples int, fallback float64) (float64, int, error) {
	var value float64
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT value, n_samples FROM learned_thresholds WHERE name = ?`, name)
	switch err := row.Scan(&value, &n); {
	case errors.Is(err, sql.ErrNoRows):
		return fallback, 0, nil
	case err != nil:
		return 0, 0, fmt.Errorf("%w: read learned threshold %q: %v", ErrLearning, name, err)
	}
	if n < minSamples {
		return fallback, n, nil
	}
	return value, n, nil
}

// SetLearnedThreshold stores the threshold manager's recomputed value.
func (s *Store) SetLearnedThreshold(ctx context.Context, name string, value float64, nSamples int, computedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learned_thresholds (name, value, n_samples, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, n_samples = excluded.n_samples, computed_at = excluded.computed_at`,
		name, value, nSamples, computedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: upsert learned threshold %q: %v", ErrLearning, name, err)
	}
	return nil
}

// SuccessfulScores returns every overall_score recorded for passed
// generations of (component, domain) - the raw sample the threshold manager
// percentiles over.
func (s *Store) SuccessfulScores(ctx context.Context, component, domain string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT overall_score FROM generations
		WHERE component = ? AND domain = ? AND passed = 1 AND overall_score IS NOT NULL`, component, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: query successful scores: %v", ErrLearning, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("%w: scan successful score: %v", ErrLearning, err)
		}
		out = append(out, score)
	}
	return out, rows.Err()
}

// ScoresForPassedGenerations returns every score a named evaluator assigned
// to a generation that ultimately passed, across every domain and
// component - the sample the threshold manager computes its percentile
// over, since learned thresholds are global quality gates, not scoped to a
// single (component, domain) pair.
func (s *Store) ScoresForPassedGenerations(ctx context.Context, evaluatorName string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT es.score
		FROM evaluation_scores es
		JOIN generations g ON g.id = es.generation_id
		WHERE es.evaluator_name = ? AND g.passed = 1`, evaluatorName)
	if err != nil {
		return nil, fmt.Errorf("%w: query scores for passed generations: %v", ErrLearning, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("%w: scan score: %v", ErrLearning, err)
		}
		out = append(out, score)
	}
	return out, rows.Err()
}

// ParamHash derives a stable identifier for a parameter bundle's
// sweet-spot-relevant fields, so repeated attempts that land on materially
// the same parameters accumulate into the same sweet-spot sample.
func ParamHash(p paramcalc.GenerationParameters) string {
	h := sha256.New()
	fmt.Fprintf(h, "%.3f|%.3f|%.3f|%.3f|%.3f|%.3f|%.3f|%.3f|%.3f|%.3f|%.3f",
		p.Temperature, p.FrequencyPenalty, p.PresencePenalty,
		p.VoiceVector.TraitFrequency, p.VoiceVector.OpinionRate, p.VoiceVector.ReaderAddressRate,
		p.VoiceVector.ColloquialismFrequency, p.VoiceVector.StructuralPredictability,
		p.VoiceVector.EmotionalTone, p.VoiceVector.ImperfectionTolerance,
		p.VoiceVector.SentenceRhythmVariation)
	return hex.EncodeToString(h.Sum(nil))
}

func addVoice(a, b paramcalc.VoiceVector) paramcalc.VoiceVector {
	return paramcalc.VoiceVector{
		TraitFrequency:           a.TraitFrequency + b.TraitFrequency,
		OpinionRate:              a.OpinionRate + b.OpinionRate,
		ReaderAddressRate:        a.ReaderAddressRate + b.ReaderAddressRate,
		ColloquialismFrequency:   a.ColloquialismFrequency + b.ColloquialismFrequency,
		StructuralPredictability: a.StructuralPredictability + b.StructuralPredictability,
		EmotionalTone:            a.EmotionalTone + b.EmotionalTone,
		ImperfectionTolerance:    a.ImperfectionTolerance + b.ImperfectionTolerance,
		SentenceRhythmVariation:  a.SentenceRhythmVariation + b.SentenceRhythmVariation,
	}
}

func scaleVoice(v paramcalc.VoiceVector, factor float64) paramcalc.VoiceVector {
	return paramcalc.VoiceVector{
		TraitFrequency:           v.TraitFrequency * factor,
		OpinionRate:              v.OpinionRate * factor,
		ReaderAddressRate:        v.ReaderAddressRate * factor,
		ColloquialismFrequency:   v.ColloquialismFrequency * factor,
		StructuralPredictability: v.StructuralPredictability * factor,
		EmotionalTone:            v.EmotionalTone * factor,
		ImperfectionTolerance:    v.ImperfectionTolerance * factor,
		SentenceRhythmVariation:  v.SentenceRhythmVariation * factor,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
