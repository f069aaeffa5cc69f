package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentStatus    = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentReviewed  = "APPOINTMENT_REVIEWED"
	EventProcessCreated       = "PROCESS_CREATED"
	EventProcessStatus        = "PROCESS_STATUS_CHANGED"
	EventBillPaid             = "BILL_PAID"
	EventBalanceCredited      = "BALANCE_CREDITED"
	EventResourceCreated      = "RESOURCE_CREATED"
	EventResourceRequested    = "RESOURCE_REQUESTED"
	EventResourceDecided      = "RESOURCE_REQUEST_DECIDED"
	EventResourceAvailability = "RESOURCE_AVAILABILITY_CHANGED"
)

// NewEvent builds an audit row with a JSON payload.
func NewEvent(eventType, entity string, entityID int64, payload map[string]any, at time.Time) (EventLog, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventLog{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return EventLog{
		EventType: eventType,
		Entity:    entity,
		EntityID:  strconv.FormatInt(entityID, 10),
		Payload:   data,
		CreatedAt: at,
	}, nil
}
