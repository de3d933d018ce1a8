package inmemdb

import (
	"sync"

	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
)

type (
	DB struct {
		user      *userTable
		messaging *messagingTables
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	messagingTables struct {
		sync.RWMutex
		conversations map[string]*messaging.Conversation
		messages      []*messaging.Message // insertion order
	}
)

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[string]*user.User)},
		messaging: &messagingTables{
			conversations: make(map[string]*messaging.Conversation),
			messages:      make([]*messaging.Message, 0),
		},
	}
	return db, nil
}
