// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package eventprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCourseChangeEvent(t *testing.T) {
	e := NewCourseChangeEvent(EventCourseUpdated, 101, []string{"coupon_code"})

	assert.Equal(t, SchemaVersion, e.SchemaVersion)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, EventCourseUpdated, e.Type)
	assert.Equal(t, int64(101), e.CourseID)
	assert.Equal(t, []string{"coupon_code"}, e.ChangedFields)
	assert.False(t, e.OccurredAt.IsZero())

	// Event IDs must be unique across events.
	other := NewCourseChangeEvent(EventCourseUpdated, 101, nil)
	assert.NotEqual(t, e.EventID, other.EventID)
}

func TestEventMessageRoundTrip(t *testing.T) {
	e := NewCourseChangeEvent(EventCourseExpired, 202, nil)

	msg, err := e.Message()
	require.NoError(t, err)
	assert.Equal(t, e.EventID, msg.UUID)
	assert.Equal(t, EventCourseExpired, msg.Metadata.Get("type"))

	got, err := ParseCourseChangeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, e.CourseID, got.CourseID)
	assert.Equal(t, e.Type, got.Type)
	assert.True(t, e.OccurredAt.Equal(got.OccurredAt))
}
