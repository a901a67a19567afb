package domain

import "github.com/pabbly/hookdash/internal/table"

var ConnectionView = table.View[Connection]{
	SearchFields: func(c Connection) []string { return []string{c.Name, c.Source, c.Destination} },
	Status:       func(c Connection) string { return c.Status },
	Field: func(c Connection, col string) any {
		switch col {
		case "name":
			return c.Name
		case "source":
			return c.Source
		case "destination":
			return c.Destination
		case "status":
			return c.Status
		case "requests":
			return c.Requests
		case "createdAt":
			return c.CreatedAt
		}
		return nil
	},
}

var TeamMemberView = table.View[TeamMember]{
	SearchFields: func(m TeamMember) []string { return []string{m.Name, m.Email} },
	Status:       func(m TeamMember) string { return m.Status },
	Field: func(m TeamMember, col string) any {
		switch col {
		case "name":
			return m.Name
		case "email":
			return m.Email
		case "permission":
			return m.Permission
		case "status":
			return m.Status
		case "sharedOn":
			return m.SharedOn
		}
		return nil
	},
}

var SMTPAccountView = table.View[SMTPAccount]{
	SearchFields: func(a SMTPAccount) []string { return []string{a.Name, a.Host, a.FromEmail} },
	Status:       func(a SMTPAccount) string { return a.Status },
	Field: func(a SMTPAccount, col string) any {
		switch col {
		case "name":
			return a.Name
		case "host":
			return a.Host
		case "port":
			return a.Port
		case "fromEmail":
			return a.FromEmail
		case "status":
			return a.Status
		case "createdAt":
			return a.CreatedAt
		}
		return nil
	},
}

var IntegrationView = table.View[Integration]{
	SearchFields: func(i Integration) []string { return []string{i.Name, i.Provider} },
	Status:       func(i Integration) string { return i.Status },
	Field: func(i Integration, col string) any {
		switch col {
		case "name":
			return i.Name
		case "provider":
			return i.Provider
		case "status":
			return i.Status
		case "createdAt":
			return i.CreatedAt
		}
		return nil
	},
}

// ActivityLogView searches the actor, the event name and the id of the
// record the activity touched.
var ActivityLogView = table.View[ActivityLog]{
	SearchFields: func(l ActivityLog) []string {
		return []string{l.Actor.Name, l.Actor.Email, l.Event, l.Data.ID}
	},
	Status: func(l ActivityLog) string { return l.Status },
	Field: func(l ActivityLog, col string) any {
		switch col {
		case "actor":
			return l.Actor.Name
		case "event":
			return l.Event
		case "status":
			return l.Status
		case "source":
			return l.Source
		case "occurredAt":
			return l.OccurredAt
		}
		return nil
	},
}
