// Package estimate computes required appointment length from patient history
// and visit context. Pure and total: unknown inputs fall back to the base
// duration rather than failing.
package estimate

import "time"

type Reason string

const (
	ReasonConsultation Reason = "consultation"
	ReasonFollowUp     Reason = "follow-up"
	ReasonPhysical     Reason = "physical"
	ReasonUrgent       Reason = "urgent"
	ReasonSpecialist   Reason = "specialist"
	ReasonSurgery      Reason = "surgery"
	ReasonMentalHealth Reason = "mental-health"
)

type Specialty string

const (
	SpecialtyFamilyMedicine   Specialty = "Family Medicine"
	SpecialtyInternalMedicine Specialty = "Internal Medicine"
	SpecialtyPediatrics       Specialty = "Pediatrics"
	SpecialtyCardiology       Specialty = "Cardiology"
	SpecialtyGeriatrics       Specialty = "Geriatrics"
	SpecialtyPsychiatry       Specialty = "Psychiatry"
)

const (
	baseReturning = 30
	baseNew       = 60
	minMinutes    = 15
	maxMinutes    = 120

	// SlotGrid is the schedule granularity. Estimates longer than one slot
	// require contiguous slots.
	SlotGrid = 30 * time.Minute
)

type Visit struct {
	NewPatient bool
	Reason     Reason
	Specialty  Specialty
	VisitCount int
}

var reasonAdjustments = map[Reason]int{
	ReasonConsultation: 0,
	ReasonFollowUp:     -10, // returning patients only
	ReasonPhysical:     15,
	ReasonUrgent:       15,
	ReasonSpecialist:   15,
	ReasonSurgery:      30,
	ReasonMentalHealth: 30,
}

var specialtyAdjustments = map[Specialty]int{
	SpecialtyCardiology: 20,
	SpecialtyPsychiatry: 30,
}

// Minutes returns the required appointment length. New patients start from a
// longer base to cover intake and registration. The follow-up discount only
// applies to returning patients; a new patient cannot shorten their first
// visit by calling it a follow-up.
func Minutes(v Visit) int {
	minutes := baseReturning
	if v.NewPatient || v.VisitCount == 0 {
		minutes = baseNew
	}

	if adj, ok := reasonAdjustments[v.Reason]; ok {
		if v.Reason == ReasonFollowUp && (v.NewPatient || v.VisitCount == 0) {
			adj = 0
		}
		minutes += adj
	}

	if adj, ok := specialtyAdjustments[v.Specialty]; ok {
		minutes += adj
	}

	if minutes < minMinutes {
		minutes = minMinutes
	}
	if minutes > maxMinutes {
		minutes = maxMinutes
	}
	return minutes
}

// SlotSpan returns how many grid slots a visit of the given length covers.
func SlotSpan(minutes int) int {
	grid := int(SlotGrid / time.Minute)
	span := minutes / grid
	if minutes%grid != 0 {
		span++
	}
	if span < 1 {
		span = 1
	}
	return span
}
