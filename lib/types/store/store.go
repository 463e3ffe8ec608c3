package store

import (
	"bytes"
	"encoding/binary"
)

type Store interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Close() error
}

type KVStore interface {
	Store

	GetNext(key []byte, bandwidth int) (uint64, error)
	Iter(prefix []byte, fn func(k, v []byte) error) int64
	IterKeys(prefix []byte, fn func(k []byte) error) int64

	Sync() error
}

// NewKey builds a kv key from a prefix and id parts, separated by '/'.
func NewKey(prefix string, params ...interface{}) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(prefix)
	for _, p := range params {
		buf.WriteByte('/')
		switch v := p.(type) {
		case string:
			buf.WriteString(v)
		case []byte:
			buf.Write(v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			buf.Write(b)
		case uint32:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, v)
			buf.Write(b)
		case int:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, uint64(v))
			buf.Write(b)
		}
	}
	return buf.Bytes()
}
