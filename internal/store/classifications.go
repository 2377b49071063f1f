package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vpo/internal/media"
	"vpo/internal/services"
)

// SaveClassification upserts a classification result keyed by
// (file_hash, track_index).
func (s *Store) SaveClassification(ctx context.Context, result media.TrackClassification) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO track_classifications
            (file_hash, track_index, original_dubbed, commentary, confidence, method, language, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (file_hash, track_index) DO UPDATE SET
            original_dubbed = excluded.original_dubbed,
            commentary      = excluded.commentary,
            confidence      = excluded.confidence,
            method          = excluded.method,
            language        = excluded.language,
            created_at      = excluded.created_at`,
		result.FileHash,
		result.TrackIndex,
		string(result.OriginalDubbed),
		string(result.Commentary),
		result.Confidence,
		string(result.Method),
		result.Language,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

// GetClassification returns the cached result for one track, or
// services.ErrNotFound when the cache has no entry for this hash.
func (s *Store) GetClassification(ctx context.Context, fileHash string, trackIndex int) (*media.TrackClassification, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT original_dubbed, commentary, confidence, method, language
        FROM track_classifications
        WHERE file_hash = ? AND track_index = ?`,
		fileHash, trackIndex,
	)
	result := media.TrackClassification{FileHash: fileHash, TrackIndex: trackIndex}
	var originalDubbed, commentary, method string
	err := row.Scan(&originalDubbed, &commentary, &result.Confidence, &method, &result.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "classification",
			fmt.Sprintf("no entry for track %d", trackIndex), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get classification: %w", err)
	}
	result.OriginalDubbed = media.OriginalDubbed(originalDubbed)
	result.Commentary = media.Commentary(commentary)
	result.Method = media.DetectionMethod(method)
	return &result, nil
}

// ClassificationsForFile returns every cached verdict for a file hash,
// keyed by track index.
func (s *Store) ClassificationsForFile(ctx context.Context, fileHash string) (map[int]media.TrackClassification, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT track_index, original_dubbed, commentary, confidence, method, language
        FROM track_classifications
        WHERE file_hash = ?`,
		fileHash,
	)
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	defer rows.Close()

	results := make(map[int]media.TrackClassification)
	for rows.Next() {
		result := media.TrackClassification{FileHash: fileHash}
		var originalDubbed, commentary, method string
		if err := rows.Scan(&result.TrackIndex, &originalDubbed, &commentary, &result.Confidence, &method, &result.Language); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		result.OriginalDubbed = media.OriginalDubbed(originalDubbed)
		result.Commentary = media.Commentary(commentary)
		result.Method = media.DetectionMethod(method)
		results[result.TrackIndex] = result
	}
	return results, rows.Err()
}

// SaveLanguageAnalysis upserts a per-track language analysis.
func (s *Store) SaveLanguageAnalysis(ctx context.Context, fileHash string, analysis media.LanguageAnalysis) error {
	secondary, err := json.Marshal(analysis.Secondary)
	if err != nil {
		return fmt.Errorf("marshal secondary shares: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO language_analyses
            (file_hash, track_index, primary_language, primary_percentage, secondary_json, multi_language, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (file_hash, track_index) DO UPDATE SET
            primary_language   = excluded.primary_language,
            primary_percentage = excluded.primary_percentage,
            secondary_json     = excluded.secondary_json,
            multi_language     = excluded.multi_language,
            created_at         = excluded.created_at`,
		fileHash,
		analysis.TrackIndex,
		analysis.PrimaryLanguage,
		analysis.PrimaryPercentage,
		string(secondary),
		boolToInt(analysis.MultiLanguage),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save language analysis: %w", err)
	}
	return nil
}

// LanguageAnalysesForFile returns every cached analysis for a file hash,
// keyed by track index.
func (s *Store) LanguageAnalysesForFile(ctx context.Context, fileHash string) (map[int]media.LanguageAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT track_index, primary_language, primary_percentage, secondary_json, multi_language
        FROM language_analyses
        WHERE file_hash = ?`,
		fileHash,
	)
	if err != nil {
		return nil, fmt.Errorf("list language analyses: %w", err)
	}
	defer rows.Close()

	results := make(map[int]media.LanguageAnalysis)
	for rows.Next() {
		var analysis media.LanguageAnalysis
		var secondary string
		var multi int
		if err := rows.Scan(&analysis.TrackIndex, &analysis.PrimaryLanguage, &analysis.PrimaryPercentage, &secondary, &multi); err != nil {
			return nil, fmt.Errorf("scan language analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(secondary), &analysis.Secondary); err != nil {
			return nil, fmt.Errorf("decode secondary shares: %w", err)
		}
		analysis.MultiLanguage = multi != 0
		results[analysis.TrackIndex] = analysis
	}
	return results, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
