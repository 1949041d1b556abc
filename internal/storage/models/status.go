package models

import (
	"fmt"
	"hash/fnv"
	"strings"
)

type CampaignStatus string

const (
	StatusNew           CampaignStatus = "new"
	StatusCalled        CampaignStatus = "called"
	StatusEmailSent     CampaignStatus = "email_sent"
	StatusCallback      CampaignStatus = "callback"
	StatusQualified     CampaignStatus = "qualified"
	StatusConverted     CampaignStatus = "converted"
	StatusNotInterested CampaignStatus = "not_interested"
	StatusDNC           CampaignStatus = "dnc"
)

var campaignStatuses = []CampaignStatus{
	StatusNew, StatusCalled, StatusEmailSent, StatusCallback,
	StatusQualified, StatusConverted, StatusNotInterested, StatusDNC,
}

// TerminalStatuses are never contacted again and never transition.
var TerminalStatuses = []CampaignStatus{StatusConverted, StatusNotInterested, StatusDNC}

// DripStatuses are the statuses the drip engine may select.
var DripStatuses = []CampaignStatus{StatusNew, StatusEmailSent}

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	v := normaliseTag(s)
	if v == "do_not_contact" || v == "do_not_call" {
		return StatusDNC, nil
	}
	for _, st := range campaignStatuses {
		if string(st) == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown campaign status %q", s)
}

func (s CampaignStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// CanTransition encodes the lead lifecycle: any non-terminal status may move to any status,
// terminal statuses only to themselves.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	if _, err := ParseCampaignStatus(string(to)); err != nil {
		return false
	}
	if s.IsTerminal() {
		return s == to
	}
	return true
}

type CallOutcome string

const (
	OutcomeNone              CallOutcome = ""
	OutcomeAnswered          CallOutcome = "answered"
	OutcomeNoAnswer          CallOutcome = "no_answer"
	OutcomeBusy              CallOutcome = "busy"
	OutcomeVoicemail         CallOutcome = "voicemail"
	OutcomeFailed            CallOutcome = "failed"
	OutcomeInterested        CallOutcome = "interested"
	OutcomeNotInterested     CallOutcome = "not_interested"
	OutcomeSale              CallOutcome = "sale"
	OutcomeCallbackRequested CallOutcome = "callback_requested"
	OutcomeDNC               CallOutcome = "dnc"
	OutcomeGatekeeper        CallOutcome = "gatekeeper"
	OutcomeWrongNumber       CallOutcome = "wrong_number"
)

var callOutcomes = []CallOutcome{
	OutcomeAnswered, OutcomeNoAnswer, OutcomeBusy, OutcomeVoicemail, OutcomeFailed,
	OutcomeInterested, OutcomeNotInterested, OutcomeSale, OutcomeCallbackRequested,
	OutcomeDNC, OutcomeGatekeeper, OutcomeWrongNumber,
}

func ParseCallOutcome(s string) (CallOutcome, error) {
	v := normaliseTag(s)
	switch v {
	case "do_not_call", "do_not_contact":
		return OutcomeDNC, nil
	case "callback":
		return OutcomeCallbackRequested, nil
	case "noanswer":
		return OutcomeNoAnswer, nil
	}
	for _, o := range callOutcomes {
		if string(o) == v {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown call outcome %q", s)
}

// ImpliesInterest reports outcomes that move a lead toward qualified.
func (o CallOutcome) ImpliesInterest() bool {
	return o == OutcomeInterested || o == OutcomeSale
}

// NextStatus is the campaign status an outcome moves a lead to, or "" to leave it unchanged.
func (o CallOutcome) NextStatus() CampaignStatus {
	switch o {
	case OutcomeInterested, OutcomeSale:
		return StatusQualified
	case OutcomeNotInterested:
		return StatusNotInterested
	case OutcomeDNC:
		return StatusDNC
	case OutcomeCallbackRequested:
		return StatusCallback
	default:
		return ""
	}
}

type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallCompleted  CallStatus = "completed"
	CallNoAnswer   CallStatus = "no_answer"
	CallBusy       CallStatus = "busy"
	CallFailed     CallStatus = "failed"
	CallProcessing CallStatus = "processing"
)

var TerminalCallStatuses = []CallStatus{CallCompleted, CallNoAnswer, CallBusy, CallFailed}

func (s CallStatus) IsTerminal() bool {
	for _, t := range TerminalCallStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// CallStatusFromProvider maps telephony status strings (queued, ringing, in-progress,
// completed, busy, no-answer, failed, canceled) onto CallStatus.
func CallStatusFromProvider(s string) CallStatus {
	switch normaliseTag(s) {
	case "completed", "done":
		return CallCompleted
	case "no_answer":
		return CallNoAnswer
	case "busy":
		return CallBusy
	case "failed", "canceled", "cancelled":
		return CallFailed
	case "in_progress", "processing":
		return CallProcessing
	default:
		return CallInitiated
	}
}

// Outcome is the lead-level outcome a terminal call status implies.
func (s CallStatus) Outcome() CallOutcome {
	switch s {
	case CallCompleted:
		return OutcomeAnswered
	case CallNoAnswer:
		return OutcomeNoAnswer
	case CallBusy:
		return OutcomeBusy
	case CallFailed:
		return OutcomeFailed
	default:
		return OutcomeNone
	}
}

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

type OpeningVariant string

const (
	OpeningFiberNews   OpeningVariant = "fiber_news"
	OpeningSpeedCheck  OpeningVariant = "speed_check"
	OpeningCostSavings OpeningVariant = "cost_savings"
	OpeningNeighbor    OpeningVariant = "neighbor_businesses"
)

var OpeningVariants = []OpeningVariant{OpeningFiberNews, OpeningSpeedCheck, OpeningCostSavings, OpeningNeighbor}

// VariantFor picks a stable opening variant for a place id.
func VariantFor(placeID string) OpeningVariant {
	h := fnv.New32a()
	h.Write([]byte(placeID))
	return OpeningVariants[h.Sum32()%uint32(len(OpeningVariants))]
}

func normaliseTag(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	return strings.ReplaceAll(v, " ", "_")
}
