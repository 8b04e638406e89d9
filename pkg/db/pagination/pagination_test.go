package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := EncodeCursor(Cursor{ID: "abc", CreatedAt: at})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "abc" || !cursor.CreatedAt.Equal(at) {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if cursor, err := DecodeCursor(""); err != nil || cursor != nil {
		t.Fatalf("expected empty token to decode to nil cursor")
	}
	if _, err := DecodeCursor("%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestPageTrimsExtraRow(t *testing.T) {
	rows := []int{1, 2, 3}
	page, info, err := Page(rows, 2, func(v int) Cursor { return Cursor{ID: "id"} })
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || !info.HasMore || info.NextPageToken == "" {
		t.Fatalf("expected 2 rows with a next token, got %v %+v", page, info)
	}

	page, info, _ = Page(rows, 5, func(v int) Cursor { return Cursor{ID: "id"} })
	if len(page) != 3 || info.HasMore {
		t.Fatalf("expected final page, got %v %+v", page, info)
	}
}

func TestNormalizePageSize(t *testing.T) {
	if NormalizePageSize(0) != DefaultPageSize || NormalizePageSize(1000) != MaxPageSize || NormalizePageSize(7) != 7 {
		t.Fatalf("unexpected page size normalization")
	}
}
