package registration

import (
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi"

	"github.com/shinminje20/birdie-buddies-backend/libs/handlers"
	"github.com/shinminje20/birdie-buddies-backend/libs/inputs"
	"github.com/shinminje20/birdie-buddies-backend/libs/middleware"
	"github.com/shinminje20/birdie-buddies-backend/libs/requestutils"
)

// Router for registration row endpoints
func Router(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Method("POST", "/{registrationID}/cancel", middleware.InstrumentHandler("CancelRegistration", CancelRegistration(service)))
	r.Method("PATCH", "/{registrationID}/guests", middleware.InstrumentHandler("UpdateGuests", UpdateGuests(service)))
	r.Method("POST", "/{registrationID}/guests", middleware.InstrumentHandler("AddGuest", AddGuest(service)))
	return r
}

// RequestRouter for queued request status endpoints
func RequestRouter(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Method("GET", "/{requestID}", middleware.InstrumentHandler("GetRequestStatus", GetRequestStatus(service)))
	return r
}

// SubmitRequest is the body of a registration submission
type SubmitRequest struct {
	Seats      int      `json:"seats" valid:"range(1|3)"`
	GuestNames []string `json:"guestNames" valid:"-"`
}

// SubmitRegistration accepts a registration intent for the session named in
// the URL and queues it for the session's allocator worker. It replies 202,
// the decision arrives later via the request status record.
func SubmitRegistration(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}

		var sessionID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), sessionID, chi.URLParam(r, "sessionID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"sessionID": err.Error(),
			})
		}

		var req SubmitRequest
		if err := requestutils.ReadJSON(r.Context(), r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error reading body", http.StatusBadRequest)
		}
		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		result, err := service.Submit(r.Context(), *sessionID.UUID(), actorID, req.Seats, req.GuestNames, r.Header.Get("Idempotency-Key"))
		if err != nil {
			return handlers.CodedError(err, "Error queueing registration")
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusAccepted)
	})
}

// GetRequestStatus returns the current state of a queued request
func GetRequestStatus(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var requestID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), requestID, chi.URLParam(r, "requestID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"requestID": err.Error(),
			})
		}
		status, err := service.GetRequestStatus(r.Context(), requestID.String())
		if err != nil {
			return handlers.CodedError(err, "Error getting request status")
		}
		return handlers.RenderContent(r.Context(), status, w, http.StatusOK)
	})
}

// CancelRegistration cancels a registration, cascading over split groups
func CancelRegistration(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}
		var registrationID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), registrationID, chi.URLParam(r, "registrationID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"registrationID": err.Error(),
			})
		}
		result, err := service.Cancel(r.Context(), *registrationID.UUID(), actorID, middleware.IsAdmin(r.Context()))
		if err != nil {
			return handlers.CodedError(err, "Error canceling registration")
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusOK)
	})
}

// UpdateGuestsRequest is the body of a guest-list edit
type UpdateGuestsRequest struct {
	GuestNames []string `json:"guestNames" valid:"-"`
}

// UpdateGuests replaces a registration's guest list (shrink or rename only)
func UpdateGuests(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}
		var registrationID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), registrationID, chi.URLParam(r, "registrationID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"registrationID": err.Error(),
			})
		}
		var req UpdateGuestsRequest
		if err := requestutils.ReadJSON(r.Context(), r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error reading body", http.StatusBadRequest)
		}
		result, err := service.UpdateGuests(r.Context(), *registrationID.UUID(), req.GuestNames, actorID, middleware.IsAdmin(r.Context()))
		if err != nil {
			return handlers.CodedError(err, "Error updating guests")
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusOK)
	})
}

// AddGuestRequest is the body of a guest add
type AddGuestRequest struct {
	Name string `json:"name" valid:"length(1|80)"`
}

// AddGuest adds one guest seat to a host's registration group
func AddGuest(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}
		var registrationID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), registrationID, chi.URLParam(r, "registrationID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"registrationID": err.Error(),
			})
		}
		var req AddGuestRequest
		if err := requestutils.ReadJSON(r.Context(), r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error reading body", http.StatusBadRequest)
		}
		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}
		result, err := service.AddGuest(r.Context(), *registrationID.UUID(), req.Name, actorID, middleware.IsAdmin(r.Context()))
		if err != nil {
			return handlers.CodedError(err, "Error adding guest")
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusCreated)
	})
}

// GetMyRegistrations returns the actor's registrations newest first
func GetMyRegistrations(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}
		regs, err := service.ListMyRegistrations(r.Context(), actorID)
		if err != nil {
			return handlers.WrapError(err, "Error listing registrations", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), regs, w, http.StatusOK)
	})
}
