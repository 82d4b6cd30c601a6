package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	redis "github.com/redis/go-redis/v9"

	"github.com/shinminje20/birdie-buddies-backend/libs/closers"
	"github.com/shinminje20/birdie-buddies-backend/libs/handlers"
	"github.com/shinminje20/birdie-buddies-backend/libs/inputs"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
)

// heartbeatInterval keeps idle SSE connections from being reaped by proxies
const heartbeatInterval = 15 * time.Second

// StreamSessionEvents bridges a session's realtime channel to server-sent
// events. The outbox dispatcher publishes there, so subscribers see every
// committed registration and lifecycle change, at least once.
func StreamSessionEvents(redisClient *redis.Client) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var sessionID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), sessionID, chi.URLParam(r, "sessionID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"sessionID": err.Error(),
			})
		}
		return streamChannel(redisClient, outbox.SessionChannel(sessionID.String()), w, r)
	})
}

// StreamRequestEvents bridges a queued request's status channel to
// server-sent events so a submitter can await the allocator's decision
// without polling.
func StreamRequestEvents(redisClient *redis.Client) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var requestID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), requestID, chi.URLParam(r, "requestID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"requestID": err.Error(),
			})
		}
		return streamChannel(redisClient, outbox.RequestChannel(requestID.String()), w, r)
	})
}

func streamChannel(redisClient *redis.Client, channel string, w http.ResponseWriter, r *http.Request) *handlers.AppError {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return &handlers.AppError{
			Message: "streaming unsupported",
			Code:    http.StatusInternalServerError,
		}
	}

	ctx := r.Context()
	sub := redisClient.Subscribe(ctx, channel)
	defer closers.Log(ctx, sub)

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": ok\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	messages := sub.Channel()
	for {
		select {
		case msg, open := <-messages:
			if !open {
				return nil
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}
