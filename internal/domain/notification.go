package domain

// Роли получателей уведомлений.
const (
	RoleManager = "manager"
	RoleWorker  = "worker"
)

// Notification — сообщение во внешний шлюз уведомлений.
type Notification struct {
	SenderID       string   `json:"sender_id,omitempty"`
	RecipientRoles []string `json:"recipient_roles,omitempty"`
	RecipientIDs   []string `json:"recipient_ids,omitempty"`
	Subject        string   `json:"subject"`
	Content        string   `json:"content"`
}
