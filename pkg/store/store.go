// Package store wraps the MongoDB document store every controller entity
// persists into. One document per entity, upserted by identity filter.
package store

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/robertobru/netcl/pkg/config"
)

// Collection names used by the controller.
const (
	ColSwitches   = "switches"
	ColFirewall   = "firewall"
	ColOperations = "operations"
	ColGroups     = "groups"
	ColConfig     = "config"
	ColStatus     = "status"
	ColLastConfig = "lastconfig"
)

// DB is a handle on the controller database.
type DB struct {
	session *mgo.Session
	name    string
}

// Dial connects to the document store described by the configuration.
func Dial(cfg config.MongoConfig) (*DB, error) {
	info := &mgo.DialInfo{
		Addrs:    []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Database: cfg.DB,
		Timeout:  10 * time.Second,
	}
	if cfg.User != "" {
		info.Username = cfg.User
		info.Password = cfg.Password
	}

	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, fmt.Errorf("dialing mongodb %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	session.SetMode(mgo.Monotonic, true)

	return &DB{session: session, name: cfg.DB}, nil
}

// Close releases the underlying session.
func (db *DB) Close() {
	db.session.Close()
}

func (db *DB) collection(name string) (*mgo.Collection, *mgo.Session) {
	s := db.session.Copy()
	return s.DB(db.name).C(name), s
}

// Insert stores a new document.
func (db *DB) Insert(collection string, doc interface{}) error {
	c, s := db.collection(collection)
	defer s.Close()
	if err := c.Insert(doc); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

// Upsert stores the document under the identity filter: it inserts it when
// none matches and otherwise sets its fields on the stored document, so
// stored fields the new document omits are kept.
func (db *DB) Upsert(collection string, filter bson.M, doc interface{}) error {
	c, s := db.collection(collection)
	defer s.Close()
	if _, err := c.Upsert(filter, bson.M{"$set": doc}); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// FindOne decodes the first document matching the filter into out.
// Returns mgo.ErrNotFound when no document matches.
func (db *DB) FindOne(collection string, filter bson.M, out interface{}) error {
	c, s := db.collection(collection)
	defer s.Close()
	if err := c.Find(filter).One(out); err != nil {
		return err
	}
	return nil
}

// Find decodes all documents matching the filter into out (a slice pointer).
func (db *DB) Find(collection string, filter bson.M, out interface{}) error {
	c, s := db.collection(collection)
	defer s.Close()
	if err := c.Find(filter).All(out); err != nil {
		return fmt.Errorf("find in %s: %w", collection, err)
	}
	return nil
}

// Exists reports whether any document matches the filter.
func (db *DB) Exists(collection string, filter bson.M) (bool, error) {
	c, s := db.collection(collection)
	defer s.Close()
	n, err := c.Find(filter).Count()
	if err != nil {
		return false, fmt.Errorf("count in %s: %w", collection, err)
	}
	return n > 0, nil
}

// Delete removes every document matching the filter.
func (db *DB) Delete(collection string, filter bson.M) error {
	c, s := db.collection(collection)
	defer s.Close()
	if _, err := c.RemoveAll(filter); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// IsNotFound reports whether err is the store's missing-document error.
func IsNotFound(err error) bool {
	return err == mgo.ErrNotFound
}
