package websocket

import "github.com/rs/zerolog/log"

type directMessage struct {
	userID  string
	client  *Client
	message []byte

	// disconnect closes the user's clients opened with tokenID, or all of
	// them when tokenID is empty.
	disconnect bool
	tokenID    string
}

// Hub maintains the set of active clients and pushes session messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Messages addressed to every connection of one user.
	direct chan directMessage

	// A map of user IDs to the set of their connected clients.
	subscriptions map[string]map[*Client]bool

	done chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		direct:        make(chan directMessage),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		done:          make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			log.Info().Msg("Websocket hub stopped")
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.addSubscription(client)
			log.Info().Str("user_id", client.UserID).Int("total_clients", len(h.clients)).Msg("Client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Str("user_id", client.UserID).Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case msg := <-h.direct:
			if msg.client != nil {
				if h.clients[msg.client] {
					h.deliver(msg.client, msg.message)
				}
				continue
			}
			for client := range h.subscriptions[msg.userID] {
				if msg.disconnect {
					if msg.tokenID == "" || client.TokenID == msg.tokenID {
						h.drop(client)
					}
					continue
				}
				h.deliver(client, msg.message)
			}
		}
	}
}

// Stop terminates Run and closes every client's send channel.
func (h *Hub) Stop() {
	close(h.done)
}

// Join registers a client unless the hub has stopped.
func (h *Hub) Join(client *Client) {
	select {
	case h.Register <- client:
	case <-h.done:
	}
}

// Leave unregisters a client unless the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Reply sends a message to a single client if it is still registered.
func (h *Hub) Reply(client *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: client, message: message}:
	case <-h.done:
	}
}

// NotifyUser sends a message to all clients connected for userID.
func (h *Hub) NotifyUser(userID string, message []byte) {
	select {
	case h.direct <- directMessage{userID: userID, message: message}:
	case <-h.done:
	}
}

// DisconnectToken closes the user's connections opened with tokenID, or every
// connection of the user when tokenID is empty. Messages already queued for
// those connections are still written before the close frame.
func (h *Hub) DisconnectToken(userID, tokenID string) {
	select {
	case h.direct <- directMessage{userID: userID, tokenID: tokenID, disconnect: true}:
	case <-h.done:
	}
}

// deliver must only run on the Run goroutine, which owns every Send channel.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.removeSubscription(client)
}

func (h *Hub) addSubscription(client *Client) {
	if h.subscriptions[client.UserID] == nil {
		h.subscriptions[client.UserID] = make(map[*Client]bool)
	}
	h.subscriptions[client.UserID][client] = true
}

func (h *Hub) removeSubscription(client *Client) {
	if subs, ok := h.subscriptions[client.UserID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, client.UserID)
		}
	}
}
