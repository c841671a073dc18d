package notify

import (
	"fmt"
	"strings"
	"time"
)

// templateInput carries everything a reminder or lifecycle template needs.
type templateInput struct {
	PatientName string
	DoctorName  string
	Specialty   string
	Location    string
	StartTime   time.Time
	Minutes     int
	ClinicName  string
}

func (in templateInput) when() string {
	return in.StartTime.Format("Monday, January 2 at 3:04 PM")
}

// renderReminder produces subject and body for one reminder stage kind:
// regular (24h), form_check (4h) or confirmation (1h).
func renderReminder(kind string, in templateInput) (subject, body string) {
	switch kind {
	case "form_check":
		subject = fmt.Sprintf("Have you completed your intake forms? | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			fmt.Sprintf("Your appointment with %s is coming up in a few hours (%s).", in.DoctorName, in.when()),
			"Please make sure your intake forms are completed before you arrive.",
			"",
			"Reply COMPLETED once your forms are done, or reply HELP and we will call you.",
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	case "confirmation":
		subject = fmt.Sprintf("Final reminder - confirm or cancel your appointment | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			fmt.Sprintf("Your appointment with %s is in about an hour (%s, %s).", in.DoctorName, in.when(), in.Location),
			"",
			"Reply CONFIRM to confirm your attendance.",
			"Reply CANCEL if you cannot make it.",
			"Reply RESCHEDULE and we will help you find a new time.",
			"",
			"If we don't hear from you we will hold your slot.",
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	default: // regular
		subject = fmt.Sprintf("Appointment reminder - tomorrow | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			"This is a friendly reminder about your upcoming appointment.",
			"",
			fmt.Sprintf("Provider: %s (%s)", in.DoctorName, in.Specialty),
			fmt.Sprintf("When: %s", in.when()),
			fmt.Sprintf("Duration: %d minutes", in.Minutes),
			fmt.Sprintf("Location: %s", in.Location),
			"",
			"Please bring photo ID, your insurance card and a list of current medications,",
			"and arrive 15 minutes early for check-in.",
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	}
	return subject, body
}

// renderLifecycle produces subject and body for a booking lifecycle notice.
func renderLifecycle(event string, in templateInput) (subject, body string) {
	switch event {
	case "APPOINTMENT_BOOKED":
		subject = fmt.Sprintf("Appointment scheduled | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			fmt.Sprintf("Your appointment with %s is scheduled for %s (%d minutes).", in.DoctorName, in.when(), in.Minutes),
			fmt.Sprintf("Location: %s", in.Location),
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	case "APPOINTMENT_RESCHEDULED":
		subject = fmt.Sprintf("Appointment rescheduled | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			fmt.Sprintf("Your appointment has been moved to %s with %s.", in.when(), in.DoctorName),
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	case "APPOINTMENT_CANCELLED":
		subject = fmt.Sprintf("Appointment cancelled | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			"Your appointment has been cancelled.",
			"Call us any time to schedule a new visit.",
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	case "APPOINTMENT_CONFIRMED":
		subject = fmt.Sprintf("Appointment confirmed | %s", in.ClinicName)
		body = joinLines(
			fmt.Sprintf("Dear %s,", in.PatientName),
			"",
			fmt.Sprintf("Thanks for confirming. We'll see you %s.", in.when()),
			"",
			fmt.Sprintf("%s Team", in.ClinicName),
		)
	default:
		return "", ""
	}
	return subject, body
}

func joinLines(lines ...string) string {
	return strings.Join(lines, "\n")
}
