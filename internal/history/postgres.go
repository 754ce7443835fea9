package history

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm/clause"

	"main/internal/chat"
	"main/pkg/conn"
)

// messageRecord is the chat_message row. Delivery state updates reuse
// the original row through the msg_id unique index.
type messageRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MsgID     string    `gorm:"column:msg_id;size:64;not null;uniqueIndex:uk_msg_id"`
	Topic     string    `gorm:"column:topic;size:128;not null;index:idx_topic_created"`
	SenderID  string    `gorm:"column:sender_id;size:64;not null"`
	Kind      string    `gorm:"column:kind;size:16;not null"`
	Content   string    `gorm:"column:content;size:4096"`
	Lat       string    `gorm:"column:lat;size:64"`
	Lng       string    `gorm:"column:lng;size:64"`
	State     uint8     `gorm:"column:state;default:0"`
	Attempts  int       `gorm:"column:attempts;default:0"`
	Inbound   bool      `gorm:"column:inbound;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_topic_created"`
}

func (messageRecord) TableName() string {
	return "chat_message"
}

// PostgresStore persists message history in PostgreSQL.
type PostgresStore struct {
	client *conn.Client
}

// NewPostgresStore migrates the schema and returns a store backed by
// the provided connection pool.
func NewPostgresStore(client *conn.Client) (*PostgresStore, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("history: nil postgres client")
	}
	if err := client.DB().AutoMigrate(&messageRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate chat_message")
	}
	return &PostgresStore{client: client}, nil
}

// Append upserts msg, replacing the stored delivery state and content
// when the message ID already exists.
func (s *PostgresStore) Append(ctx context.Context, msg chat.Message) error {
	if msg.ID == "" || msg.Topic == "" {
		return nil
	}

	record := recordFromMessage(msg)
	err := s.client.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "msg_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "attempts", "content", "kind", "lat", "lng",
		}),
	}).Create(&record).Error
	if err != nil {
		return errors.Wrap(err, "append message").
			With("id", msg.ID).
			With("topic", msg.Topic)
	}
	return nil
}

// Query returns messages for topic within r, ascending by created_at.
// When Limit trims the result it keeps the newest rows.
func (s *PostgresStore) Query(ctx context.Context, topic string, r Range) ([]chat.Message, error) {
	query := s.client.DB().WithContext(ctx).
		Model(&messageRecord{}).
		Where("topic = ?", topic)
	if !r.After.IsZero() {
		query = query.Where("created_at > ?", r.After)
	}
	if !r.Before.IsZero() {
		query = query.Where("created_at < ?", r.Before)
	}

	var records []messageRecord
	if r.Limit > 0 {
		// Newest rows first under the cap, flipped back below.
		query = query.Order("created_at DESC").Order("msg_id DESC").Limit(r.Limit)
	} else {
		query = query.Order("created_at ASC").Order("msg_id ASC")
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "query messages").With("topic", topic)
	}

	if r.Limit > 0 {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}

	out := make([]chat.Message, 0, len(records))
	for _, record := range records {
		msg, err := record.message()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping reports whether the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func recordFromMessage(msg chat.Message) messageRecord {
	return messageRecord{
		MsgID:     msg.ID,
		Topic:     msg.Topic,
		SenderID:  msg.SenderID,
		Kind:      string(msg.Kind),
		Content:   msg.Content,
		Lat:       chat.DecimalString(msg.Lat),
		Lng:       chat.DecimalString(msg.Lng),
		State:     uint8(msg.State),
		Attempts:  msg.Attempts,
		Inbound:   msg.Inbound,
		CreatedAt: msg.CreatedAt,
	}
}

func (r messageRecord) message() (chat.Message, error) {
	msg := chat.Message{
		ID:        r.MsgID,
		Topic:     r.Topic,
		SenderID:  r.SenderID,
		Kind:      chat.MessageKind(r.Kind),
		Content:   r.Content,
		State:     chat.DeliveryState(r.State),
		Attempts:  r.Attempts,
		Inbound:   r.Inbound,
		CreatedAt: r.CreatedAt,
	}
	if r.Lat != "" {
		lat, err := chat.DecimalFromString(r.Lat)
		if err != nil {
			return chat.Message{}, errors.Wrap(err, "decode stored lat").With("id", r.MsgID)
		}
		msg.Lat = lat
	}
	if r.Lng != "" {
		lng, err := chat.DecimalFromString(r.Lng)
		if err != nil {
			return chat.Message{}, errors.Wrap(err, "decode stored lng").With("id", r.MsgID)
		}
		msg.Lng = lng
	}
	return msg, nil
}
