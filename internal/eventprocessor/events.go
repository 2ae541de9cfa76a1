// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package eventprocessor carries course change events from the crawl
// pipeline to the cache coordinator over an in-process Watermill pub/sub.
// Events are notifications, not state transfer: consumers re-read the
// canonical store instead of trusting event payloads.
package eventprocessor

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version. Increment on breaking
// changes to CourseChangeEvent.
const SchemaVersion = 1

// TopicCourseChanges is the topic all course change events are published to.
const TopicCourseChanges = "course.changes"

// TopicPoison receives events whose handler failed after all retries.
const TopicPoison = "course.changes.poison"

// Event types.
const (
	EventCourseCreated     = "course.created"
	EventCourseUpdated     = "course.updated"
	EventCourseExpired     = "course.expired"
	EventCourseReactivated = "course.reactivated"
)

// CourseChangeEvent signals that one canonical row changed.
type CourseChangeEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	CourseID      int64     `json:"course_id"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewCourseChangeEvent creates an event with a unique ID and timestamp.
func NewCourseChangeEvent(eventType string, courseID int64, changedFields []string) *CourseChangeEvent {
	return &CourseChangeEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          eventType,
		CourseID:      courseID,
		ChangedFields: changedFields,
		OccurredAt:    time.Now().UTC(),
	}
}

// Message serializes the event into a Watermill message. The event id
// doubles as the message UUID so duplicate detection stays possible.
func (e *CourseChangeEvent) Message() (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(e.EventID, payload)
	msg.Metadata.Set("type", e.Type)
	return msg, nil
}

// ParseCourseChangeEvent deserializes a Watermill message payload.
func ParseCourseChangeEvent(msg *message.Message) (*CourseChangeEvent, error) {
	var e CourseChangeEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
