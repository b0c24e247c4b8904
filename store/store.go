// Package store persists the prompt and knowledge objects that protocol
// message handlers read and write. The transport and dispatch core never
// touch it.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	KindKnowledge = "knowledge"
	KindPrompt    = "prompt"
)

var (
	ErrInvalidID  = errors.New("invalid object id")
	ErrLoadFailed = errors.New("load failed")
	ErrSaveFailed = errors.New("save failed")
)

// Object is one stored item. Content is any JSON-representable value.
type Object struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject,omitempty"`
	Content   any       `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence boundary. Get returns nil, nil for an unknown id.
type Store interface {
	Get(ctx context.Context, id string) (*Object, error)
	// Put creates or replaces obj and returns its id, generating one when
	// obj.ID is empty.
	Put(ctx context.Context, obj *Object) (string, error)
	List(ctx context.Context) ([]*Object, error)
	// Delete removes the object. Unknown ids are ignored.
	Delete(ctx context.Context, id string) error
}

// Matches reports whether query occurs, case-insensitively, in the subject,
// a tag or string content of obj.
func (obj *Object) Matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(obj.Subject), q) {
		return true
	}
	for _, tag := range obj.Tags {
		if strings.ToLower(tag) == q {
			return true
		}
	}
	if s, ok := obj.Content.(string); ok {
		return strings.Contains(strings.ToLower(s), q)
	}
	return false
}

// Search returns at most limit objects matching query. A limit of zero
// returns every match.
func Search(ctx context.Context, s Store, query string, limit int) ([]*Object, error) {
	objects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*Object
	for _, obj := range objects {
		if obj.Matches(query) {
			matches = append(matches, obj)
			if limit > 0 && len(matches) == limit {
				break
			}
		}
	}
	return matches, nil
}

// prepare assigns an id and timestamp ahead of a write.
func prepare(obj *Object) error {
	if obj.ID == "" {
		obj.ID = uuid.Must(uuid.NewV7()).String()
	}
	if err := validateID(obj.ID); err != nil {
		return err
	}
	obj.UpdatedAt = time.Now().UTC()
	return nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// decode reads a stored object, keeping numbers in Content as json.Number
// the way protocol messages deliver them.
func decode(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}
