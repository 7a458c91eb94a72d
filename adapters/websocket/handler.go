package websocket

import (
	"github.com/labstack/echo/v4"
)

// Handler serves the "/ws" endpoint.
func (s *Server) Handler(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, s.dispatch)
	s.hub.Register(client)

	// Start the client goroutines
	client.Run()

	// Register cleanup when client is done
	defer s.hub.Unregister(client)

	// Wait for the client context to be done (connection closed)
	<-client.Context().Done()

	return nil
}
