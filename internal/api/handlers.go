package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/calendar"
	"github.com/clinicdesk/scheduling/internal/estimate"
	"github.com/clinicdesk/scheduling/internal/export"
	redisclient "github.com/clinicdesk/scheduling/internal/redis"
	"github.com/clinicdesk/scheduling/internal/reminder"
	"github.com/clinicdesk/scheduling/internal/response"
)

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			id, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}

		window, err := parseWindow(req.WindowFrom, req.WindowTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), booking.BookRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			Specialty: req.Specialty,
			Reason:    estimate.Reason(req.Reason),
			Window:    window,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id query param must be a valid UUID")
			return
		}

		limit := parseIntQuery(r, "limit", 0)
		offset := parseIntQuery(r, "offset", 0)

		appointments, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appointments))
		for i := range appointments {
			out = append(out, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func rescheduleAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		window, err := parseWindow(req.WindowFrom, req.WindowTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, window)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		if err := svc.Cancel(r.Context(), id, req.Reason); err != nil {
			handleBookingError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func confirmAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.Complete(r.Context(), id); err != nil {
			handleBookingError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func noShowAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.MarkNoShow(r.Context(), id); err != nil {
			handleBookingError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getRemindersHandler(engine *reminder.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		st, found := engine.Snapshot(id)
		if !found {
			writeError(w, http.StatusNotFound, "reminders_not_found", "no reminder schedule for this appointment")
			return
		}

		resp := ReminderStateResponse{
			AppointmentID:    st.AppointmentID,
			AppointmentStart: st.AppointmentStart,
		}
		for _, stage := range reminder.StageOrder {
			ss := st.Stages[stage]
			resp.Stages = append(resp.Stages, ReminderStageResponse{
				Stage:  string(stage),
				Status: string(ss.Status),
				DueAt:  ss.DueAt,
				SentAt: ss.SentAt,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorsHandler(cal *calendar.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors := cal.ListDoctors()
		out := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			out = append(out, DoctorResponse{
				ID:        d.ID,
				Name:      d.Name,
				Specialty: d.Specialty,
				Location:  d.Location,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listSlotsHandler(cal *calendar.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		from, to, err := parseRangeQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			return
		}

		slots, err := cal.ListSlots(doctorID, from, to)
		if err != nil {
			if errors.Is(err, calendar.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, SlotResponse{
				ID:              s.ID,
				DoctorID:        s.DoctorID,
				StartTime:       s.StartTime,
				DurationMinutes: int(s.Duration / time.Minute),
				Status:          string(s.Status),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// patientReplyHandler accepts a raw patient reply, classifies it and feeds it
// through the response processor. Replaying the same response_id returns the
// duplicate flag instead of acting twice.
func patientReplyHandler(proc *response.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		responseID, err := uuid.Parse(req.ResponseID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_response_id", "response_id must be a valid UUID")
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		pr := response.PatientResponse{
			ID:            responseID,
			AppointmentID: appointmentID,
			Kind:          response.ClassifyReply(req.Body),
			ReceivedAt:    time.Now(),
			RawRef:        req.Body,
		}
		if req.WindowFrom != "" && req.WindowTo != "" {
			window, err := parseWindow(req.WindowFrom, req.WindowTo)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
				return
			}
			pr.RequestedWindow = &window
		}

		outcome, err := proc.Process(r.Context(), pr)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PatientReplyResponse{
			Kind:      string(pr.Kind),
			Action:    outcome.Action,
			Duplicate: outcome.Duplicate,
		})
	}
}

func listIntentsHandler(proc *response.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intents := proc.PendingIntents()
		out := make([]RescheduleIntentResponse, 0, len(intents))
		for _, in := range intents {
			resp := RescheduleIntentResponse{
				ResponseID:    in.ResponseID,
				AppointmentID: in.AppointmentID,
				ReceivedAt:    in.ReceivedAt,
			}
			if in.RequestedWindow != nil {
				resp.WindowFrom = &in.RequestedWindow.From
				resp.WindowTo = &in.RequestedWindow.To
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// exportAppointmentsHandler streams the active appointment report as CSV.
func exportAppointmentsHandler(exp *export.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="appointments.csv"`)
		if _, err := exp.WriteActiveCSV(r.Context(), w); err != nil {
			log.Printf("export appointments: %v", err)
		}
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNoAvailability):
		writeError(w, http.StatusConflict, "no_availability", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrOperationInFlight),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "operation_in_flight", "another operation on this appointment is in flight, please retry shortly")
	case errors.Is(err, calendar.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseWindow(from, to string) (booking.Window, error) {
	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return booking.Window{}, errors.New("window_from must be RFC3339")
	}
	t, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return booking.Window{}, errors.New("window_to must be RFC3339")
	}
	if !f.Before(t) {
		return booking.Window{}, errors.New("window_from must be before window_to")
	}
	return booking.Window{From: f, To: t}, nil
}

func parseRangeQuery(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from query param must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to query param must be RFC3339")
	}
	return from, to, nil
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Reason:          string(a.Reason),
		Status:          string(a.Status),
		CancelReason:    a.CancelReason,
		SlotIDs:         a.SlotIDs,
	}
}
