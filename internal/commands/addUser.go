package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"huddle/internal/config"
)

// AddUser provisions an account through the running server's admin
// listener.
func AddUser(email, userName, password string, cfg *config.Config) error {
	reqBody, err := json.Marshal(map[string]string{
		"email":    email,
		"userName": userName,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool `json:"success"`
		User    struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			UserName string `json:"userName"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("ID:       %s\n", result.User.ID)
	fmt.Printf("Email:    %s\n", result.User.Email)
	fmt.Printf("Name:     %s\n", result.User.UserName)
	return nil
}
