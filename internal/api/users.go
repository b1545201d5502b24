package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jdholdren/digest/internal/digest"
	digerrs "github.com/jdholdren/digest/internal/errors"
	"github.com/jdholdren/digest/internal/serverutil"
)

const minPasswordLength = 8

type UserReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req UserReq) Validate() error {
	var details []digerrs.Detail
	if _, err := mail.ParseAddress(req.Email); err != nil {
		details = append(details, digerrs.Detail{Field: "email", Error: "Enter a valid email address."})
	}
	if len(req.Password) < minPasswordLength {
		details = append(details, digerrs.Detail{Field: "password", Error: fmt.Sprintf("Ensure this field has at least %d characters.", minPasswordLength)})
	}
	if len(details) > 0 {
		return digerrs.E(http.StatusBadRequest, "Invalid input.", details)
	}

	return nil
}

type UserResp struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

func apiUser(u digest.User) UserResp {
	return UserResp{
		ID:        u.ID,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}

// HashPassword is shared with the manage command so both create users the same way.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %s", err)
	}
	return string(hash), nil
}

func (s Server) postUser(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[UserReq](r.Body)
	if err != nil {
		return err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return err
	}

	usr, err := s.repo.InsertUser(r.Context(), digest.User{
		Email:        req.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, digest.ErrConflict) {
		return digerrs.E(http.StatusBadRequest, "Invalid input.", digerrs.Detail{Field: "email", Error: "user with this email already exists."})
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusCreated, apiUser(usr))
}

type TokenResp struct {
	Token string `json:"token"`
}

var errBadCredentials = digerrs.E(http.StatusBadRequest, "Unable to log in with provided credentials.")

func (s Server) postToken(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[UserReq](r.Body)
	if err != nil {
		// Don't leak which rule failed
		return errBadCredentials
	}

	usr, err := s.repo.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, digest.ErrNotFound) {
		return errBadCredentials
	}
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(req.Password)); err != nil {
		return errBadCredentials
	}

	tok, err := issueToken(s.tokens, usr)
	if err != nil {
		return fmt.Errorf("error issuing token: %s", err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, TokenResp{Token: tok})
}

func (s Server) getMe(w http.ResponseWriter, r *http.Request) error {
	usr, ok := requestUser(r.Context())
	if !ok {
		return errUnauthenticated
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiUser(usr))
}
