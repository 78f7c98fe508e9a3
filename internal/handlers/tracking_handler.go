package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/liggeey/backend/internal/metrics"
	"github.com/liggeey/backend/internal/services"
)

type TrackingHandler struct {
	service   *services.TrackingService
	validator *services.ValidationHelper
	upgrader  websocket.Upgrader
}

func NewTrackingHandler(service *services.TrackingService) *TrackingHandler {
	return &TrackingHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens in middleware; browser origins are handled by CORS.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

// Start handles POST /posts/{postID}/tracking
// @Summary Start a tracking session for a taken post
// @Tags tracking
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param postID path string true "Post ID"
// @Param request body object{latitude=number,longitude=number} true "Initial position"
// @Success 201 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Router /posts/{postID}/tracking [post]
func (h *TrackingHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req locationRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.WriteError(w, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	postID := chi.URLParam(r, "postID")
	if err := h.service.StartSession(r.Context(), postID, userID, *req.Latitude, *req.Longitude); err != nil {
		log.Printf("[TRACKING] Start on %s by %s failed: %v", postID, userID, err)
		services.WriteError(w, err)
		return
	}

	services.SendJSON(w, http.StatusCreated, map[string]any{"success": true})
}

// Update handles PUT /posts/{postID}/tracking
func (h *TrackingHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req locationRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.WriteError(w, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	postID := chi.URLParam(r, "postID")
	if err := h.service.UpdateLocation(r.Context(), postID, userID, *req.Latitude, *req.Longitude); err != nil {
		log.Printf("[TRACKING] Update on %s by %s failed: %v", postID, userID, err)
		services.WriteError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Current handles GET /posts/{postID}/tracking
func (h *TrackingHandler) Current(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.CurrentPosition(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, session)
}

// Subscribe handles GET /posts/{postID}/tracking/ws: it upgrades to a
// websocket and streams position updates until the session is torn down
// or the client disconnects. Reconnecting simply re-subscribes.
func (h *TrackingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[TRACKING] Upgrade failed on %s: %v", postID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	positions, err := h.service.Subscribe(ctx, postID)
	if err != nil {
		log.Printf("[TRACKING] Subscribe failed on %s: %v", postID, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}

	metrics.ActiveTrackingSubscribers.Inc()
	defer metrics.ActiveTrackingSubscribers.Dec()

	// Drain reads so close frames and pings are processed; a read error
	// means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for position := range positions {
		if err := conn.WriteJSON(position); err != nil {
			return
		}
	}

	// Session torn down; tell the client this stream is over.
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
}

// Publish handles GET /posts/{postID}/tracking/publish: the accepted
// provider upgrades to a websocket and streams its device positions. The
// socket is adapted into a LocationSource feeding the session.
func (h *TrackingHandler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	postID := chi.URLParam(r, "postID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[TRACKING] Upgrade failed on %s: %v", postID, err)
		return
	}
	defer conn.Close()

	src := &wsLocationSource{conn: conn}
	if err := h.service.RunPublisher(r.Context(), postID, userID, src); err != nil {
		log.Printf("[TRACKING] Publisher on %s by %s stopped: %v", postID, userID, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		return
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// wsLocationSource adapts a provider's websocket into a LocationSource.
type wsLocationSource struct {
	conn *websocket.Conn
}

// wsPosition is a single client-reported reading. An error field lets the
// device report GPS acquisition failures explicitly.
type wsPosition struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Error     string   `json:"error,omitempty"`
}

func (s *wsLocationSource) Positions(ctx context.Context) (<-chan services.PositionReading, error) {
	out := make(chan services.PositionReading)

	go func() {
		defer close(out)
		for {
			var msg wsPosition
			if err := s.conn.ReadJSON(&msg); err != nil {
				return // client disconnected or sent garbage
			}

			reading := services.PositionReading{}
			switch {
			case msg.Error != "":
				reading.Err = &GPSError{Reason: msg.Error}
			case msg.Latitude == nil || msg.Longitude == nil:
				reading.Err = &GPSError{Reason: "position unavailable"}
			default:
				reading.Latitude = *msg.Latitude
				reading.Longitude = *msg.Longitude
			}

			select {
			case out <- reading:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// GPSError is a device-side location acquisition failure reported by the
// publishing client.
type GPSError struct {
	Reason string
}

func (e *GPSError) Error() string {
	return "gps: " + e.Reason
}
