package model

type (
	User struct {
		ID       string `json:"user_id" bson:"_id"`
		Username string `json:"username" bson:"username"`
		Picture  string `json:"picture,omitempty" bson:"picture,omitempty"`
		Email    string `json:"email,omitempty" bson:"email,omitempty"`
	}
)
