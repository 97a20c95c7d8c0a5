package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidEvent は記録できないイベントを表す。
	ErrInvalidEvent = errors.New("イベントが不正です")
	// ErrEmptyData はDataが空のイベントをデコードしようとしたことを表す。
	ErrEmptyData = errors.New("イベントデータが空です")
)

// New は現在時刻でイベントを生成する。dataはJSONで保存される。
func New(aggregateID string, aggregateType AggregateType, eventType Type, userID string, data any) (*Event, error) {
	return NewAt(time.Now(), aggregateID, aggregateType, eventType, userID, data)
}

// NewAt は作成日時を指定してイベントを生成する。作成日時はUTCに揃える。
func NewAt(at time.Time, aggregateID string, aggregateType AggregateType, eventType Type, userID string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s のデータをJSONに変換できません: %w", eventType, err)
	}

	e := &Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		UserID:        userID,
		Data:          raw,
		CreatedAt:     at.UTC(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate は監査ログに記録できるイベントかどうかを検証する。
func (e *Event) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil", ErrInvalidEvent)
	case e.ID == "":
		return fmt.Errorf("%w: IDが空です", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: 種類が空です", ErrInvalidEvent)
	case len(e.Data) > 0 && !json.Valid(e.Data):
		return fmt.Errorf("%w: %s のデータがJSONではありません", ErrInvalidEvent, e.EventType)
	}
	return nil
}

// DecodeData はDataをTとして取り出す。
func DecodeData[T any](e *Event) (*T, error) {
	if len(e.Data) == 0 {
		return nil, ErrEmptyData
	}
	out := new(T)
	if err := json.Unmarshal(e.Data, out); err != nil {
		return nil, fmt.Errorf("%s のデータを読み取れません: %w", e.EventType, err)
	}
	return out, nil
}
