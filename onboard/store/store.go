// Package store persists the rig's send history and local user accounts in a
// storm (bolt) database.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"golang.org/x/crypto/bcrypt"
)

// SentRecord is one command line written to a port.
type SentRecord struct {
	ID      int       `storm:"increment" json:"id"` // pk
	Session string    `storm:"index" json:"session"`
	Port    string    `json:"port"`
	Line    string    `json:"line"`
	Type    string    `json:"type"`
	Device  int       `json:"device"`
	SentAt  time.Time `json:"sent_at"`
}

// Represents a local user
type User struct {
	ID       int    `storm:"increment"` // pk
	Email    string `storm:"unique"`
	Name     string
	Password string
	Admin    bool
}

// Sets the User.Password to the hashed value for the provided plain text
func (u *User) SetPassword(pass []byte) {
	hash, _ := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	u.Password = string(hash)
}

// Compares User.Password with the provided plain text.
// Returns values directly as provided by the bcrypt library for downstream processing.
func (u *User) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), pass)
}

type DB struct {
	*storm.DB
}

// Open creates the database file, and its directory, if needed.
func Open(dbFile string) (db *DB, err error) {
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	sdb, err := storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	for _, data := range []interface{}{&User{}, &SentRecord{}} {
		if err := sdb.Init(data); err != nil {
			sdb.Close()
			return nil, err
		}
	}

	return &DB{sdb}, nil
}

// RecordSent implements the core's history sink.
func (db *DB) RecordSent(rec SentRecord) error {
	return db.Save(&rec)
}

// Session lists a session's records in send order.
func (db *DB) Session(id string) (recs []SentRecord, err error) {
	err = db.Select(q.Eq("Session", id)).OrderBy("ID").Find(&recs)
	if err == storm.ErrNotFound {
		return []SentRecord{}, nil
	}
	return
}

// Recent returns up to n records, newest first.
func (db *DB) Recent(n int) (recs []SentRecord, err error) {
	err = db.All(&recs, storm.Limit(n), storm.Reverse())
	if recs == nil {
		recs = []SentRecord{}
	}
	return
}

func (db *DB) ClearHistory() error {
	err := db.Drop(&SentRecord{})
	if err != nil && err != storm.ErrNotFound {
		return err
	}
	return db.Init(&SentRecord{})
}

func (db *DB) UserByEmail(email string) (u User, err error) {
	err = db.One("Email", email, &u)
	return
}

func (db *DB) CreateUser(email, name, password string, admin bool) (*User, error) {
	u := &User{Email: email, Name: name, Admin: admin}
	u.SetPassword([]byte(password))
	return u, db.Save(u)
}
