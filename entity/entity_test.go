package entity

import (
	"testing"
	"time"
)

func TestValidateID(t *testing.T) {
	cases := []struct {
		id string
		ok bool
	}{
		{"m1", true},
		{"movie_one.v2:a|b-c", true},
		{"", false},
		{"-leading-dash", false},
		{"has space", false},
		{string(make([]byte, 200)), false},
	}
	for _, c := range cases {
		err := ValidateID(c.id)
		if (err == nil) != c.ok {
			t.Errorf("ValidateID(%q) = %v, want ok=%v", c.id, err, c.ok)
		}
	}
}

func TestUpdatedAtRoundTrip(t *testing.T) {
	in := time.Date(2024, 1, 2, 3, 4, 5, 6*1e6, time.UTC)
	s := FormatUpdatedAt(in)
	if s != "2024-01-02T03:04:05.006Z" {
		t.Fatalf("unexpected format: %s", s)
	}
	out, err := ParseUpdatedAt(s)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip mismatch: %v != %v", out, in)
	}
}

func TestETagRoundTrip(t *testing.T) {
	v := []byte("v1-bytes")
	tag := ETag(v)
	if tag[0] != '"' || tag[len(tag)-1] != '"' {
		t.Fatalf("etag not quoted: %s", tag)
	}
	got, err := ParseETag(tag)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(v) {
		t.Fatalf("round trip mismatch: %s != %s", got, v)
	}
}

func TestParseETagRejectsWeak(t *testing.T) {
	if _, err := ParseETag(`W/"abc"`); err == nil {
		t.Fatal("expected weak etag to be rejected")
	}
}

func TestMapAccessorRoundTrip(t *testing.T) {
	a := NewMapAccessor("Movie")
	item := map[string]any{"id": "m1", "title": "X"}
	f := SystemFields{ID: "m1", UpdatedAt: time.Now().UTC().Truncate(time.Millisecond), Version: []byte("abc")}
	a.SetSystemFields(item, f)

	got, err := a.GetSystemFields(item)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != f.ID || !got.UpdatedAt.Equal(f.UpdatedAt) || string(got.Version) != string(f.Version) {
		t.Fatalf("round trip mismatch: %+v != %+v", got, f)
	}
}

func TestDefaultPath(t *testing.T) {
	if got := DefaultPath("Movie"); got != "/tables/movie" {
		t.Fatalf("got %s", got)
	}
}
