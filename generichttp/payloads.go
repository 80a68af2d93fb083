package generichttp

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
)

// FloatT is a float wrapped in a JSON object
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is an int wrapped in a JSON object
type IntT struct {
	Int int `json:"int"`
}

// StrT is a string wrapped in a JSON object
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a bool wrapped in a JSON object
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a scalar and a tag for which of its fields is live.
// It exists so handlers can reply with the same single-field JSON
// objects the Set handlers accept.
type HumanPayload struct {
	// Float holds a float
	Float float64

	// Int holds an int
	Int int

	// String holds a string
	String string

	// Bool holds a bool
	Bool bool

	// T is the type of data contained in the payload
	T types.BasicKind
}

// EncodeAndRespond writes the payload to w as JSON
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var obj interface{}
	switch hp.T {
	case types.Float64:
		obj = FloatT{F64: hp.Float}
	case types.Int:
		obj = IntT{Int: hp.Int}
	case types.String:
		obj = StrT{Str: hp.String}
	case types.Bool:
		obj = BoolT{Bool: hp.Bool}
	default:
		http.Error(w, fmt.Sprintf("payload type %v not supported", hp.T), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
