package invalid

//csrfguard:token a b
type TooManyArgs struct{}

//csrfguard:token bad!key
type BadKey struct{}

//csrfguard:token
type NotStruct string

//csrfguard:token
type WrongType struct {
	CSRFToken []byte
}

//csrfguard:token
type Ambiguous struct {
	CSRFToken string
	Other     string `form:"csrf_token"`
}

//csrfguard:token
type OtherKey struct {
	CSRFToken string `form:"token"`
}

//csrfguard:token
type HasMethod struct{}

func (HasMethod) SubmittedCSRFToken() string { return "" }
