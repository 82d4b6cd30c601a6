package session

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/shinminje20/birdie-buddies-backend/libs/handlers"
	"github.com/shinminje20/birdie-buddies-backend/libs/inputs"
	"github.com/shinminje20/birdie-buddies-backend/libs/middleware"
	"github.com/shinminje20/birdie-buddies-backend/libs/requestutils"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
)

// Router for session endpoints. Registration submission lives here because
// it is addressed by session id.
func Router(service *Service, registrationService *registration.Service) chi.Router {
	r := chi.NewRouter()
	r.Method("POST", "/", middleware.AdminRequired(
		middleware.InstrumentHandler("CreateSession", CreateSession(service))))
	r.Method("GET", "/", middleware.InstrumentHandler("ListSessions", ListSessions(service)))
	r.Method("GET", "/{sessionID}", middleware.InstrumentHandler("GetSession", GetSession(service)))
	r.Method("PATCH", "/{sessionID}", middleware.AdminRequired(
		middleware.InstrumentHandler("UpdateSession", UpdateSession(service))))
	r.Method("GET", "/{sessionID}/events", middleware.InstrumentHandler("StreamSessionEvents", StreamSessionEvents(service.RedisClient)))
	r.Method("POST", "/{sessionID}/registrations", middleware.InstrumentHandler("SubmitRegistration", registration.SubmitRegistration(registrationService)))
	return r
}

// CreateSession creates a scheduled session, seeding any pre-registrations
// (admin only)
func CreateSession(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var req CreateRequest
		if err := requestutils.ReadJSON(r.Context(), r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error reading body", http.StatusBadRequest)
		}
		result, err := service.Create(r.Context(), &req)
		if err != nil {
			return handlers.CodedError(err, "Error creating session")
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusCreated)
	})
}

// ListSessions returns all sessions with seat statistics
func ListSessions(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		summaries, err := service.List(r.Context())
		if err != nil {
			return handlers.WrapError(err, "Error listing sessions", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), summaries, w, http.StatusOK)
	})
}

// GetSession returns one session with seat statistics
func GetSession(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var sessionID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), sessionID, chi.URLParam(r, "sessionID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"sessionID": err.Error(),
			})
		}
		summary, err := service.Get(r.Context(), *sessionID.UUID())
		if err != nil {
			return handlers.CodedError(err, "Error getting session")
		}
		return handlers.RenderContent(r.Context(), summary, w, http.StatusOK)
	})
}

// UpdateSession patches capacity and/or status with lifecycle side effects
// (admin only)
func UpdateSession(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var sessionID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), sessionID, chi.URLParam(r, "sessionID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"sessionID": err.Error(),
			})
		}
		var req UpdateRequest
		if err := requestutils.ReadJSON(r.Context(), r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error reading body", http.StatusBadRequest)
		}
		if req.Capacity == nil && req.Status == nil {
			return handlers.ValidationError("request body", map[string]interface{}{
				"capacity": "at least one of capacity or status is required",
			})
		}
		summary, err := service.Update(r.Context(), *sessionID.UUID(), &req)
		if err != nil {
			return handlers.CodedError(err, "Error updating session")
		}
		return handlers.RenderContent(r.Context(), summary, w, http.StatusOK)
	})
}
