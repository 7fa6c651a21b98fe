package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/landmarks"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// SessionSource tells where a session's frames came from.
type SessionSource string

const (
	// SourceLive marks sessions recorded from the camera pipeline.
	SourceLive SessionSource = "live"
	// SourceUpload marks sessions created from uploaded images.
	SourceUpload SessionSource = "upload"
)

// Session is one detection run.
type Session struct {
	ID         string        `json:"id"`
	Source     SessionSource `json:"source"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    *time.Time    `json:"endedAt,omitempty"`
	FrameCount int           `json:"frameCount"`
	HandCount  int           `json:"handCount"`
}

// HandRecord is one persisted hand detection.
type HandRecord struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"sessionId"`
	DetectedAt time.Time     `json:"detectedAt"`
	Hand       detector.Hand `json:"hand"`
}

// SessionRepository provides CRUD operations for sessions and their hands.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session. An empty ID gets a generated uuid.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, started_at, frame_count, hand_count)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Source), sess.StartedAt, sess.FrameCount, sess.HandCount,
	)
	return err
}

// End stamps the session's end time.
func (r *SessionRepository) End(id string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	sess := &Session{}
	var source string
	var ended sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, source, started_at, ended_at, frame_count, hand_count
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &source, &sess.StartedAt, &ended, &sess.FrameCount, &sess.HandCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sess.Source = SessionSource(source)
	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return sess, nil
}

// List retrieves the most recent sessions, newest first. A non-positive
// limit means no limit.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, source, started_at, ended_at, frame_count, hand_count
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		var source string
		var ended sql.NullTime
		if err := rows.Scan(&sess.ID, &source, &sess.StartedAt, &ended, &sess.FrameCount, &sess.HandCount); err != nil {
			return nil, err
		}
		sess.Source = SessionSource(source)
		if ended.Valid {
			sess.EndedAt = &ended.Time
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecordHands persists one frame's detections and bumps the session's
// frame and hand counters in a single transaction.
func (r *SessionRepository) RecordHands(sessionID string, hands []detector.Hand) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE sessions SET frame_count = frame_count + 1, hand_count = hand_count + ?
		 WHERE id = ?`, len(hands), sessionID,
	)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := range hands {
		if err := insertHand(tx, sessionID, now, &hands[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Hands retrieves all hand records of a session, oldest first.
func (r *SessionRepository) Hands(sessionID string) ([]*HandRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, detected_at, handedness, score, gesture, gesture_confidence,
		        box_x, box_y, box_width, box_height, rotation,
		        landmarks, world_landmarks, image_width, image_height
		 FROM hands WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*HandRecord
	for rows.Next() {
		rec, err := scanHand(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a session and, via the foreign key cascade, its hands.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func insertHand(tx *sql.Tx, sessionID string, at time.Time, h *detector.Hand) error {
	lm, err := json.Marshal(h.Landmarks)
	if err != nil {
		return fmt.Errorf("marshal landmarks: %w", err)
	}
	wl, err := json.Marshal(h.WorldLandmarks)
	if err != nil {
		return fmt.Errorf("marshal world landmarks: %w", err)
	}

	var rotation float64
	if h.Rotated != nil {
		rotation = h.Rotated.Rotation
	}
	var gestureName string
	var gestureConf float64
	if h.Gesture != nil {
		gestureName = string(h.Gesture.Type)
		gestureConf = h.Gesture.Confidence
	}

	_, err = tx.Exec(
		`INSERT INTO hands (session_id, detected_at, handedness, score, gesture, gesture_confidence,
		                    box_x, box_y, box_width, box_height, rotation,
		                    landmarks, world_landmarks, image_width, image_height)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, at, string(h.Handedness), h.Score, gestureName, gestureConf,
		h.BoundingBox.X, h.BoundingBox.Y, h.BoundingBox.Width, h.BoundingBox.Height, rotation,
		string(lm), string(wl), h.ImageWidth, h.ImageHeight,
	)
	return err
}

func scanHand(rows *sql.Rows) (*HandRecord, error) {
	rec := &HandRecord{}
	var handedness, gestureName string
	var gestureConf, rotation float64
	var lm, wl string

	err := rows.Scan(&rec.ID, &rec.SessionID, &rec.DetectedAt,
		&handedness, &rec.Hand.Score, &gestureName, &gestureConf,
		&rec.Hand.BoundingBox.X, &rec.Hand.BoundingBox.Y,
		&rec.Hand.BoundingBox.Width, &rec.Hand.BoundingBox.Height, &rotation,
		&lm, &wl, &rec.Hand.ImageWidth, &rec.Hand.ImageHeight)
	if err != nil {
		return nil, err
	}

	rec.Hand.Handedness = landmarks.Handedness(handedness)
	if gestureName != "" {
		rec.Hand.Gesture = &gesture.Result{Type: gesture.Type(gestureName), Confidence: gestureConf}
	}
	if rotation != 0 {
		rec.Hand.Rotated = &detector.RotatedBox{
			CenterX:  rec.Hand.BoundingBox.X + rec.Hand.BoundingBox.Width/2,
			CenterY:  rec.Hand.BoundingBox.Y + rec.Hand.BoundingBox.Height/2,
			Width:    rec.Hand.BoundingBox.Width,
			Height:   rec.Hand.BoundingBox.Height,
			Rotation: rotation,
		}
	}
	if err := json.Unmarshal([]byte(lm), &rec.Hand.Landmarks); err != nil {
		return nil, fmt.Errorf("unmarshal landmarks: %w", err)
	}
	if err := json.Unmarshal([]byte(wl), &rec.Hand.WorldLandmarks); err != nil {
		return nil, fmt.Errorf("unmarshal world landmarks: %w", err)
	}
	return rec, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
