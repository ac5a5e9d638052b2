package engine

import "encoding/gob"

func init() {
	gob.Register(ConnectionRecord{})
	gob.Register(ClientToken{})
	gob.Register(AuthToken{})
}
