package main

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler streams bus events to the client. Only operators may send
// session commands back.
func EventsHandler(w http.ResponseWriter, r *http.Request) {
	driver := ENV.DEBUG
	if claims, ok := r.Context().Value(claimsKey).(*RigClaims); ok {
		driver = driver || claims.Operator
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ENV.Log.WithError(err).Warn("upgrade")
		return
	}
	ENV.Conductor.Serve(conn, driver)
}
