package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"chain-gateway/db"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned when no document matches a lookup.
var ErrNotFound = errors.New("repository: not found")

// It abstracts the keyed-index storage layer from the gateway logic
type IndexRepositoryInterface interface {
	Write(doc Document) error
	WriteRange(prop string, score int64, id string) error
	FindByID(id string, out any) error
	FindOneByProperty(prop, value string, out any) error
	FindByRange(prop string, from, to int64, reverse bool, limit, offset int) ([]string, error)
	DeleteByProperty(prop, value string) (int, error)
	Count() (int, error)
}

// Document is one stored entity with the secondary indexes it should be reachable by.
// Scores are ordered numeric indexes (range queries), Props are exact-match indexes.
type Document struct {
	ID     string
	Value  any
	Scores map[string]int64
	Props  map[string]string
}

type envelope struct {
	Scores map[string]int64  `json:"scores,omitempty"`
	Props  map[string]string `json:"props,omitempty"`
	Value  json.RawMessage   `json:"value"`
}

// IndexRepository implements IndexRepositoryInterface on one LevelDB collection.
// Keys are laid out as:
//
//	<collection>/doc/<id>                  -> envelope
//	<collection>/score/<prop>/<score>/<id> -> id
//	<collection>/prop/<prop>/<value>       -> id
type IndexRepository struct {
	db         *db.LevelDB
	collection string
}

// NewIndexRepository creates and returns a new IndexRepository for a collection
func NewIndexRepository(ldb *db.LevelDB, collection string) *IndexRepository {
	return &IndexRepository{db: ldb, collection: collection}
}

func (r *IndexRepository) docKey(id string) []byte {
	return []byte(r.collection + "/doc/" + id)
}

func (r *IndexRepository) scorePrefix(prop string) string {
	return r.collection + "/score/" + prop + "/"
}

func (r *IndexRepository) scoreKey(prop string, score int64, id string) []byte {
	return []byte(r.scorePrefix(prop) + encodeScore(score) + "/" + id)
}

func (r *IndexRepository) propKey(prop, value string) []byte {
	return []byte(r.collection + "/prop/" + prop + "/" + value)
}

// encodeScore maps an int64 onto a fixed-width string whose byte order matches numeric order.
func encodeScore(score int64) string {
	return fmt.Sprintf("%020d", uint64(score)^(1<<63))
}

// Write stores a document and its secondary indexes in one batch, replacing any
// previous version of the document together with its stale index entries.
func (r *IndexRepository) Write(doc Document) error {
	if doc.ID == "" {
		return errors.New("repository: document without id")
	}
	raw, err := json.Marshal(doc.Value)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Scores: doc.Scores, Props: doc.Props, Value: raw})
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if prev, err := r.load(doc.ID); err == nil {
		r.unindex(batch, doc.ID, prev)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	batch.Put(r.docKey(doc.ID), data)
	for prop, score := range doc.Scores {
		batch.Put(r.scoreKey(prop, score, doc.ID), []byte(doc.ID))
	}
	for prop, value := range doc.Props {
		if value == "" {
			continue
		}
		batch.Put(r.propKey(prop, value), []byte(doc.ID))
	}
	return r.db.Write(batch)
}

// WriteRange adds a bare score entry pointing at id, without a document.
func (r *IndexRepository) WriteRange(prop string, score int64, id string) error {
	return r.db.Put(r.scoreKey(prop, score, id), []byte(id))
}

func (r *IndexRepository) load(id string) (*envelope, error) {
	data, err := r.db.Get(r.docKey(id))
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// FindByID decodes the document stored under id into out
func (r *IndexRepository) FindByID(id string, out any) error {
	env, err := r.load(id)
	if err != nil {
		return err
	}
	return json.Unmarshal(env.Value, out)
}

// FindOneByProperty resolves a document through an exact-match index, or through a
// score index when value is numeric and no exact index holds it.
func (r *IndexRepository) FindOneByProperty(prop, value string, out any) error {
	id, err := r.db.Get(r.propKey(prop, value))
	if err == nil {
		return r.FindByID(string(id), out)
	}
	if !db.IsNotFound(err) {
		return err
	}

	score, convErr := strconv.ParseInt(value, 10, 64)
	if convErr != nil {
		return ErrNotFound
	}
	ids, err := r.FindByRange(prop, score, score, false, 1, 0)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrNotFound
	}
	return r.FindByID(ids[0], out)
}

// FindByRange returns the ids whose score for prop lies in [from, to], ordered by score.
func (r *IndexRepository) FindByRange(prop string, from, to int64, reverse bool, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	prefix := r.scorePrefix(prop)
	// '0' sorts right after '/', so the limit key closes the range just past score "to".
	start := []byte(prefix + encodeScore(from) + "/")
	end := []byte(prefix + encodeScore(to) + "0")

	iter := r.db.NewRangeIterator(start, end)
	defer iter.Release()

	next := iter.Next
	ok := iter.First()
	if reverse {
		next = iter.Prev
		ok = iter.Last()
	}

	ids := make([]string, 0, limit)
	skipped := 0
	for ; ok; ok = next() {
		if skipped < offset {
			skipped++
			continue
		}
		ids = append(ids, string(iter.Value()))
		if len(ids) == limit {
			break
		}
	}
	return ids, iter.Error()
}

// DeleteByProperty removes the documents reachable through prop=value and returns how many
// were deleted.
func (r *IndexRepository) DeleteByProperty(prop, value string) (int, error) {
	var ids []string
	byProp := false
	if id, err := r.db.Get(r.propKey(prop, value)); err == nil {
		ids = append(ids, string(id))
		byProp = true
	} else if !db.IsNotFound(err) {
		return 0, err
	} else if score, convErr := strconv.ParseInt(value, 10, 64); convErr == nil {
		found, err := r.FindByRange(prop, score, score, false, 1<<20, 0)
		if err != nil {
			return 0, err
		}
		ids = found
	}

	batch := new(leveldb.Batch)
	deleted := 0
	for _, id := range ids {
		env, err := r.load(id)
		if errors.Is(err, ErrNotFound) {
			// dangling index entry, or a bare range entry written by WriteRange
			if byProp {
				batch.Delete(r.propKey(prop, value))
			} else {
				batch.Delete(r.scoreKey(prop, mustScore(value), id))
			}
			continue
		}
		if err != nil {
			return deleted, err
		}
		r.unindex(batch, id, env)
		batch.Delete(r.docKey(id))
		deleted++
	}
	return deleted, r.db.Write(batch)
}

func mustScore(value string) int64 {
	score, _ := strconv.ParseInt(value, 10, 64)
	return score
}

func (r *IndexRepository) unindex(batch *leveldb.Batch, id string, env *envelope) {
	for prop, score := range env.Scores {
		batch.Delete(r.scoreKey(prop, score, id))
	}
	for prop, value := range env.Props {
		batch.Delete(r.propKey(prop, value))
	}
}

// Count returns the number of documents in the collection
func (r *IndexRepository) Count() (int, error) {
	iter := r.db.NewPrefixIterator([]byte(r.collection + "/doc/"))
	defer iter.Release()

	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}
