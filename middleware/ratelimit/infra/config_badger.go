package infra

import (
	"context"
	"errors"

	badger "github.com/outcaste-io/badger/v3"
	"go.uber.org/zap"

	"apikey-gateway/middleware/ratelimit/domain"
)

// BadgerConfigSource persiste os valores num Badger embutido.
// Para um gateway de instância única que precisa sobreviver a restarts sem Redis.
type BadgerConfigSource struct {
	db  *badger.DB
	log *zap.Logger
}

// keyPrefix separa as chaves do limitador de qualquer outra coisa guardada no mesmo diretório.
const keyPrefix = "ratelimit/config/"

// OpenBadgerConfigSource abre (ou cria) o banco em path. path vazio usa modo em memória.
func OpenBadgerConfigSource(log *zap.Logger, path string) (*BadgerConfigSource, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opt := badger.DefaultOptions(path)
	if path == "" {
		log.Warn("badger config source in-memory mode enabled. All values will be lost on shutdown!")
		opt = opt.WithInMemory(true)
	}
	opt = opt.WithSyncWrites(true)
	opt = opt.WithLogger(nil)

	db, err := badger.Open(opt)
	if err != nil {
		return nil, domain.ConfigSourceError.Wrap(err)
	}
	return &BadgerConfigSource{db: db, log: log}, nil
}

func (s *BadgerConfigSource) Get(_ context.Context, name string) (value string, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value, ok = string(val), true
			return nil
		})
	})
	if err != nil {
		return "", false, domain.ConfigSourceError.Wrap(err)
	}
	return value, ok, nil
}

func (s *BadgerConfigSource) Set(_ context.Context, name, value string) error {
	return domain.ConfigSourceError.Wrap(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+name), []byte(value))
	}))
}

func (s *BadgerConfigSource) Close() error {
	return domain.ConfigSourceError.Wrap(s.db.Close())
}
