package questions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exambank/backend/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Questions ──────────────────────────────────────────

func (s *Store) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	var q models.Question
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, question_type, title, title_translated,
		       correct_prefix, analysis, analysis_translated, difficulty,
		       source_question_id, created_at
		FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.SubjectID, &q.QuestionType, &q.Title, &q.TitleTranslated,
		&q.CorrectPrefix, &q.Analysis, &q.AnalysisTranslated, &q.Difficulty,
		&q.SourceQuestionID, &q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get question %d: %w", id, err)
	}

	if err := s.loadOptions(ctx, &q); err != nil {
		return nil, err
	}
	if err := s.loadKnowledgePointIDs(ctx, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) loadOptions(ctx context.Context, q *models.Question) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prefix, content, content_translated
		FROM question_options WHERE question_id = $1 ORDER BY prefix`, q.ID)
	if err != nil {
		return fmt.Errorf("load options for question %d: %w", q.ID, err)
	}
	defer rows.Close()

	q.Options = nil
	for rows.Next() {
		var opt models.Option
		if err := rows.Scan(&opt.Prefix, &opt.Content, &opt.ContentTranslated); err != nil {
			return fmt.Errorf("scan option: %w", err)
		}
		q.Options = append(q.Options, opt)
	}
	return rows.Err()
}

func (s *Store) loadKnowledgePointIDs(ctx context.Context, q *models.Question) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT knowledge_point_id
		FROM question_knowledge_points WHERE question_id = $1 ORDER BY knowledge_point_id`, q.ID)
	if err != nil {
		return fmt.Errorf("load knowledge points for question %d: %w", q.ID, err)
	}
	defer rows.Close()

	q.KnowledgePointIDs = nil
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan knowledge point id: %w", err)
		}
		q.KnowledgePointIDs = append(q.KnowledgePointIDs, id)
	}
	return rows.Err()
}

func (s *Store) ListQuestions(ctx context.Context, subjectID int64, limit, offset int) ([]models.Question, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE subject_id = $1`, subjectID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, question_type, title, title_translated,
		       correct_prefix, analysis, analysis_translated, difficulty,
		       source_question_id, created_at
		FROM questions WHERE subject_id = $1
		ORDER BY id DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.SubjectID, &q.QuestionType, &q.Title, &q.TitleTranslated,
			&q.CorrectPrefix, &q.Analysis, &q.AnalysisTranslated, &q.Difficulty,
			&q.SourceQuestionID, &q.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range questions {
		if err := s.loadOptions(ctx, &questions[i]); err != nil {
			return nil, 0, err
		}
		if err := s.loadKnowledgePointIDs(ctx, &questions[i]); err != nil {
			return nil, 0, err
		}
	}
	return questions, total, nil
}

// SaveGeneratedQuestion persists an accepted question with its options and
// knowledge-point links in one transaction and returns the new id.
func (s *Store) SaveGeneratedQuestion(ctx context.Context, q models.Question) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO questions (subject_id, question_type, title, title_translated,
		                       correct_prefix, analysis, analysis_translated,
		                       difficulty, source_question_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		q.SubjectID, q.QuestionType, q.Title, q.TitleTranslated,
		q.CorrectPrefix, q.Analysis, q.AnalysisTranslated,
		q.Difficulty, q.SourceQuestionID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}

	for _, opt := range q.Options {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_options (question_id, prefix, content, content_translated)
			VALUES ($1, $2, $3, $4)`,
			id, opt.Prefix, opt.Content, opt.ContentTranslated); err != nil {
			return 0, fmt.Errorf("insert option %s: %w", opt.Prefix, err)
		}
	}

	for _, kpID := range q.KnowledgePointIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_knowledge_points (question_id, knowledge_point_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, kpID); err != nil {
			return 0, fmt.Errorf("link knowledge point %d: %w", kpID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	return id, nil
}

// ── Knowledge Points ───────────────────────────────────

func (s *Store) ListKnowledgePoints(ctx context.Context, subjectID int64) ([]models.KnowledgePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, name, created_at
		FROM knowledge_points WHERE subject_id = $1 ORDER BY id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge points: %w", err)
	}
	defer rows.Close()

	var kps []models.KnowledgePoint
	for rows.Next() {
		var kp models.KnowledgePoint
		if err := rows.Scan(&kp.ID, &kp.SubjectID, &kp.Name, &kp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge point: %w", err)
		}
		kps = append(kps, kp)
	}
	return kps, rows.Err()
}

// ── Generation Logs ────────────────────────────────────

func (s *Store) LogGeneration(ctx context.Context, entry *models.GenerationLog) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO generation_logs (user_id, source_question_id, generated_question_id,
		                             fingerprint, difficulty_variance, no_variance,
		                             outcome, attempts, failure_reason,
		                             similarity_to_source, prompt_tokens, output_tokens, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		entry.UserID, entry.SourceQuestionID, entry.GeneratedID,
		entry.Fingerprint, entry.DifficultyVariance, entry.NoVariance,
		entry.Outcome, entry.Attempts, nullIfEmpty(entry.FailureReason),
		entry.SimilarityToSource, entry.PromptTokens, entry.OutputTokens, entry.DurationMs,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

func (s *Store) ListGenerationLogs(ctx context.Context, userID int64, limit, offset int) ([]models.GenerationLog, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generation_logs WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count generation logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source_question_id, generated_question_id,
		       fingerprint, difficulty_variance, no_variance, outcome, attempts,
		       COALESCE(failure_reason, ''), similarity_to_source,
		       prompt_tokens, output_tokens, duration_ms, created_at
		FROM generation_logs WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list generation logs: %w", err)
	}
	defer rows.Close()

	var logs []models.GenerationLog
	for rows.Next() {
		var l models.GenerationLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.SourceQuestionID, &l.GeneratedID,
			&l.Fingerprint, &l.DifficultyVariance, &l.NoVariance, &l.Outcome, &l.Attempts,
			&l.FailureReason, &l.SimilarityToSource,
			&l.PromptTokens, &l.OutputTokens, &l.DurationMs, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan generation log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
