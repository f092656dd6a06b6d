package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("missing key should not be present")
	}

	c.Set(ctx, "k", "v")
	if v, ok := c.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Get = %q, %v", v, ok)
	}

	c.Remove(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("removed key should be gone")
	}
}

func TestMemoryTTL(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.SetEx(ctx, "k", "v", -time.Second) // already expired
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expired key should read as absent")
	}
}

func TestMemoryCounters(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Incr(ctx, "n")
	c.Incr(ctx, "n")
	c.Decr(ctx, "n")

	if n, ok := c.GetCount(ctx, "n"); !ok || n != 1 {
		t.Errorf("GetCount = %d, %v, want 1", n, ok)
	}
}

func TestMemoryCorruptCounterEvicts(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "n", "not-a-number")
	if _, ok := c.GetCount(ctx, "n"); ok {
		t.Error("corrupt counter should read as absent")
	}
	if _, ok := c.Get(ctx, "n"); ok {
		t.Error("corrupt counter should have been evicted")
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{ProfileKey("abc"), "rbeam.auth.profile:abc"},
		{GroupKey(4), "rbeam.auth.gid:4"},
		{NotificationKey("n1"), "rbeam.auth.notification:n1"},
		{MailKey("m1"), "rbeam.auth.mail:m1"},
		{ItemKey("i1"), "rbeam.auth.econ.item:i1"},
		{TransactionKey("t1"), "rbeam.auth.econ.transaction:t1"},
		{FollowersCountKey("u"), "rbeam.auth.followers_count:u"},
		{FollowingCountKey("u"), "rbeam.auth.following_count:u"},
		{NotificationCountKey("u"), "rbeam.auth.notification_count:u"},
		{FriendsCountKey("u"), "rbeam.app.friends_count:u"},
		{ResponseCountKey("u"), "rbeam.app.response_count:u"},
		{GlobalQuestionCountKey("u"), "rbeam.app.global_question_count:u"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
