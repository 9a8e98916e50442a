package basic

//csrfguard:token
type LoginForm struct {
	Name string `form:"name" validate:"required"`
}

//csrfguard:token my_csrf_token
type CustomKeyForm struct {
	Email string `form:"email"`
}

//csrfguard:token
type ExistingField struct {
	Token string `form:"csrf_token,omitempty"`
}

//csrfguard:token
type ExistingName struct {
	CSRFToken string
}

//csrfguard:token
type TaggedName struct {
	CSRFToken string `json:"token"`
}

//csrfguard:token
type Generic[T any, U comparable] struct {
	Value T `form:"value"`
	Key   U `form:"key"`
}

type Unmarked struct{ Name string }

type (
	//csrfguard:token
	Grouped struct{ A string }

	Other struct{}
)

// Not a directive.
//csrfguard:tokens
type NotMarked struct{}
