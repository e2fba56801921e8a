package appointment

import "github.com/google/uuid"

// Authorize is the single capability check for acting on an appointment.
// A requester may act on appointments they booked, a provider on
// appointments assigned to them. Admins are not parties to an appointment and
// may not drive it.
func Authorize(actor *Actor, appt *Appointment) error {
	if actor == nil || actor.ID == uuid.Nil {
		return ErrMissingActor
	}
	switch actor.Role {
	case ActorRequester:
		if actor.ID == appt.RequesterID {
			return nil
		}
	case ActorProvider:
		if actor.ID == appt.ProviderID {
			return nil
		}
	}
	return ErrForbidden
}

// AuthorizeProvider guards provider-owned resources such as the weekly
// schedule and block-outs.
func AuthorizeProvider(actor *Actor, providerID uuid.UUID) error {
	if actor == nil || actor.ID == uuid.Nil {
		return ErrMissingActor
	}
	if actor.Role == ActorAdmin {
		return nil
	}
	if actor.Role == ActorProvider && actor.ID == providerID {
		return nil
	}
	return ErrForbidden
}

// listScope restricts a listing to what the actor may see.
func listScope(actor *Actor, f ListFilter) (ListFilter, error) {
	if actor == nil || actor.ID == uuid.Nil {
		return f, ErrMissingActor
	}
	id := actor.ID
	switch actor.Role {
	case ActorRequester:
		f.RequesterID = &id
	case ActorProvider:
		f.ProviderID = &id
	case ActorAdmin:
	default:
		return f, ErrForbidden
	}
	return f, nil
}
