package api

import (
	"context"
	"net/http"

	"github.com/room4-2/vox/apperr"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type registerResponse struct {
	Message string `json:"message"`
	UserID  flexID `json:"user_id"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	const op = "login"
	if username == "" || password == "" {
		return "", apperr.New(apperr.KindInvalid, op, "username and password are required")
	}
	var resp loginResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/auth/login", credentials{username, password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", apperr.New(apperr.KindProtocol, op, "response missing token")
	}
	return resp.Token, nil
}

// Register creates an account and returns its user id.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	const op = "register"
	if username == "" || password == "" {
		return "", apperr.New(apperr.KindInvalid, op, "username and password are required")
	}
	var resp registerResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/auth/register", credentials{username, password}, &resp); err != nil {
		return "", err
	}
	return string(resp.UserID), nil
}
