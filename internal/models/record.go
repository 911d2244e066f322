// ABOUTME: JSON wire format for posts as stored in the realtime database.
// ABOUTME: Decodes leniently so malformed or partial records render as empty fields.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// postRecord is the stored shape of a post under posts/{id}.
type postRecord struct {
	Name        string         `json:"name"`
	Phone       string         `json:"phone,omitempty"`
	PostName    string         `json:"postName"`
	PostContent string         `json:"postContent"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Timestamp   flexTime       `json:"timestamp"`
	Likes       int            `json:"likes"`
	Comments    commentRecords `json:"comments"`
}

// commentRecord is the stored shape of one comment.
type commentRecord struct {
	Text      string   `json:"text"`
	Author    string   `json:"author,omitempty"`
	Timestamp flexTime `json:"timestamp"`
}

// commentRecords accepts both a JSON array and the index-keyed object form
// the database uses for sparse arrays.
type commentRecords []commentRecord

// UnmarshalJSON implements json.Unmarshaler.
func (c *commentRecords) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}

	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			*c = nil
			return nil
		}
		out := make(commentRecords, 0, len(raw))
		for _, r := range raw {
			if rec, ok := decodeComment(r); ok {
				out = append(out, rec)
			}
		}
		*c = out
		return nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		*c = nil
		return nil
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, erri := strconv.Atoi(keys[i])
		nj, errj := strconv.Atoi(keys[j])
		if erri == nil && errj == nil {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	out := make(commentRecords, 0, len(keys))
	for _, k := range keys {
		if rec, ok := decodeComment(keyed[k]); ok {
			out = append(out, rec)
		}
	}
	*c = out
	return nil
}

func decodeComment(raw json.RawMessage) (commentRecord, bool) {
	var rec commentRecord
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return rec, false
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false
	}
	return rec, true
}

// flexTime decodes either Unix milliseconds or an RFC 3339 string.
// Posts are stamped in milliseconds and comments with ISO strings.
type flexTime struct {
	time.Time
	iso bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			f.Time = t
			f.iso = true
		} else if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Time = time.UnixMilli(ms)
		}
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return nil
	}
	f.Time = time.UnixMilli(int64(ms))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f flexTime) MarshalJSON() ([]byte, error) {
	if f.iso {
		return json.Marshal(f.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	}
	return json.Marshal(f.Time.UnixMilli())
}

// Record returns the stored representation of a post, suitable for Set or Push.
func (p *Post) Record() any {
	return postRecord{
		Name:        p.AuthorName,
		Phone:       p.Phone,
		PostName:    p.Title,
		PostContent: p.Content,
		ImageURL:    p.ImageURL,
		Timestamp:   flexTime{Time: p.CreatedAt},
		Likes:       p.Likes,
		Comments:    toCommentRecords(p.Comments),
	}
}

// CommentsRecord returns the stored representation of a comment sequence,
// suitable for a partial update of the comments field.
func CommentsRecord(comments []Comment) any {
	return toCommentRecords(comments)
}

func toCommentRecords(comments []Comment) commentRecords {
	out := make(commentRecords, 0, len(comments))
	for _, c := range comments {
		out = append(out, commentRecord{
			Text:      c.Text,
			Author:    c.Author,
			Timestamp: flexTime{Time: c.CreatedAt, iso: true},
		})
	}
	return out
}

// DecodePost decodes a single post record. A record that is not a JSON object
// yields a post carrying only its ID.
func DecodePost(id string, raw json.RawMessage) *Post {
	post := &Post{ID: id, Comments: []Comment{}}
	var rec postRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Type mismatches leave the remaining fields decoded.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return post
		}
	}

	post.AuthorName = rec.Name
	post.Phone = rec.Phone
	post.Title = rec.PostName
	post.Content = rec.PostContent
	post.ImageURL = rec.ImageURL
	post.CreatedAt = rec.Timestamp.Time
	if rec.Likes > 0 {
		post.Likes = rec.Likes
	}
	for _, c := range rec.Comments {
		post.Comments = append(post.Comments, Comment{
			Text:      c.Text,
			Author:    c.Author,
			CreatedAt: c.Timestamp.Time,
		})
	}
	return post
}

// DecodePosts decodes a full collection snapshot ({id: record, ...}) into
// posts ordered by key. A null snapshot is an empty collection.
func DecodePosts(raw json.RawMessage) ([]*Post, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []*Post{}, nil
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode posts snapshot: %w", err)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	posts := make([]*Post, 0, len(ids))
	for _, id := range ids {
		if bytes.Equal(bytes.TrimSpace(records[id]), []byte("null")) {
			continue
		}
		posts = append(posts, DecodePost(id, records[id]))
	}
	return posts, nil
}
