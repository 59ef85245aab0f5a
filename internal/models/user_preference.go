package models

// UserPreference records per-channel opt-in flags for a user. A row is
// provisioned with every channel enabled when the user is created and removed
// when the user is deleted.
type UserPreference struct {
	UserID string `gorm:"primaryKey" json:"user_id"`
	InApp  bool   `gorm:"column:in_app;default:true" json:"in_app"`
	Email  bool   `gorm:"default:true" json:"email"`
	Chat   bool   `gorm:"default:true" json:"chat"`
}

// ChannelEnabled reports whether the named channel is opted in. Unknown
// channel names are treated as enabled so new channels can be rolled out
// before the preference schema catches up.
func (p UserPreference) ChannelEnabled(channel string) bool {
	switch channel {
	case ChannelInApp:
		return p.InApp
	case ChannelEmail:
		return p.Email
	case ChannelChat:
		return p.Chat
	default:
		return true
	}
}

// DefaultPreference returns the preference row provisioned for new users.
func DefaultPreference(userID string) UserPreference {
	return UserPreference{
		UserID: userID,
		InApp:  true,
		Email:  true,
		Chat:   true,
	}
}
