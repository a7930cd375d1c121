// Package generichttp defines small JSON payload types and handler
// factories shared by the HTTP adapters for instrument types.
package generichttp

import (
	"encoding/json"
	"net/http"
	"strings"
)

// FloatT is a struct with a single float64 field, used for json exchanges
// of a bare floating point value.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field.
type IntT struct {
	Int int64 `json:"int"`
}

// StrT is a struct with a single string field.
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field.
type BoolT struct {
	Bool bool `json:"bool"`
}

// RespondJSON writes v to w as JSON with an OK status.
func RespondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// GetFloat calls a float-getting function and returns the response as
// json {"f64": value}.
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		RespondJSON(w, FloatT{F64: f})
	}
}

// SetFloat parses a JSON input of {"f64": value} and calls fcn with it.
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(f.F64); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetInt calls an int-getting function and returns the response as
// json {"int": value}.
func GetInt(fcn func() (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		RespondJSON(w, IntT{Int: i})
	}
}

// SetInt parses a JSON input of {"int": value} and calls fcn with it.
func SetInt(fcn func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(i.Int); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response as
// json {"str": value}.
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		RespondJSON(w, StrT{Str: s})
	}
}

// GetBool calls a bool-getting function and returns the response as
// json {"bool": value}.
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		RespondJSON(w, BoolT{Bool: b})
	}
}

// SetBool parses a JSON input of {"bool": value} and calls fcn with it.
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fcn(b.Bool); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// SubMuxSanitize normalizes a URL stem for mounting a submux: a leading
// slash, no trailing slash, bare "/" passed through.
func SubMuxSanitize(stem string) string {
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	if stem != "/" {
		stem = strings.TrimSuffix(stem, "/")
	}
	return stem
}
