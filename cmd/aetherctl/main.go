// aetherctl es el CLI de administración del broker: habla con la API
// (roles, permisos, webhooks) usando un access token, y maneja las claves
// de firma en forma local.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skygenesisenterprise/aether-broker/internal/jwt"
)

type client struct {
	BaseURL   string
	Token     string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("AETHER_API_URL", "http://localhost:8080")
		token   = envOr("AETHER_TOKEN", "")
		out     = envOr("AETHER_OUT", "text")
	)

	c := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:   "aetherctl",
		Short: "CLI de administración del identity broker",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.BaseURL = baseURL
			c.Token = token
			c.OutFormat = out
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "api-url", baseURL, "URL base de la API (env AETHER_API_URL)")
	root.PersistentFlags().StringVar(&token, "token", token, "access token admin (env AETHER_TOKEN)")
	root.PersistentFlags().StringVar(&out, "out", out, "formato de salida: text | json")

	root.AddCommand(rolesCmd(c), permissionsCmd(c), assignCmd(c), webhooksCmd(c), keysCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireToken(c *client) error {
	if c.Token == "" {
		return fmt.Errorf("falta el access token (flag --token o env AETHER_TOKEN)")
	}
	return nil
}

func rolesCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{Use: "roles", Short: "Administrar roles RBAC"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Listar roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			status, body, err := c.do(http.MethodGet, "/api/v1/rbac/roles", nil)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	})

	var description string
	var permissions []string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Crear un rol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			b, _ := json.Marshal(map[string]any{
				"name":        args[0],
				"description": description,
				"permissions": permissions,
			})
			status, body, err := c.do(http.MethodPost, "/api/v1/rbac/roles", b)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "descripción del rol")
	create.Flags().StringSliceVar(&permissions, "permissions", nil, "permisos (repetible o separados por coma)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <role-id>",
		Short: "Eliminar un rol (los de sistema están protegidos)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			status, body, err := c.do(http.MethodDelete, "/api/v1/rbac/roles/"+args[0], nil)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	})

	return cmd
}

func permissionsCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{Use: "permissions", Short: "Administrar permisos granulares"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Listar permisos",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			status, body, err := c.do(http.MethodGet, "/api/v1/rbac/permissions", nil)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	})

	return cmd
}

func assignCmd(c *client) *cobra.Command {
	var expiresAt string
	cmd := &cobra.Command{
		Use:   "assign <user-id> <role-id>",
		Short: "Asignar un rol a un usuario",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			payload := map[string]any{"userId": args[0], "roleId": args[1]}
			if expiresAt != "" {
				if _, err := time.Parse(time.RFC3339, expiresAt); err != nil {
					return fmt.Errorf("expires-at inválido (RFC3339): %w", err)
				}
				payload["expiresAt"] = expiresAt
			}
			b, _ := json.Marshal(payload)
			status, body, err := c.do(http.MethodPost, "/api/v1/rbac/assignments", b)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	}
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "expiración de la asignación (RFC3339)")
	return cmd
}

func webhooksCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{Use: "webhooks", Short: "Administrar webhooks"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Listar webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			status, body, err := c.do(http.MethodGet, "/api/v1/webhooks", nil)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	})

	var events []string
	var description string
	create := &cobra.Command{
		Use:   "create <url>",
		Short: "Crear un webhook (imprime el secret una única vez)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			b, _ := json.Marshal(map[string]any{
				"url":         args[0],
				"events":      events,
				"description": description,
			})
			status, body, err := c.do(http.MethodPost, "/api/v1/webhooks", b)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	}
	create.Flags().StringSliceVar(&events, "events", nil, "eventos suscriptos (requerido)")
	create.Flags().StringVar(&description, "description", "", "descripción")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "stats <webhook-id>",
		Short: "Métricas de entrega de un webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			status, body, err := c.do(http.MethodGet, "/api/v1/webhooks/"+args[0]+"/stats", nil)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	})

	var testEvent string
	test := &cobra.Command{
		Use:   "test <webhook-id>",
		Short: "Disparar una entrega de prueba al webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			b, _ := json.Marshal(map[string]any{"eventType": testEvent})
			status, body, err := c.do(http.MethodPost, "/api/v1/webhooks/"+args[0]+"/test", b)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	}
	test.Flags().StringVar(&testEvent, "event", "webhook.test", "tipo de evento de prueba")
	cmd.AddCommand(test)

	cmd.AddCommand(&cobra.Command{
		Use:   "retry-failed",
		Short: "Relanzar las entregas fallidas pendientes (requiere admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(c); err != nil {
				return err
			}
			status, body, err := c.do(http.MethodPost, "/api/v1/webhooks/retry-failed", nil)
			if err != nil {
				return err
			}
			c.print(status, body)
			return nil
		},
	})

	return cmd
}

// keysCmd opera sobre el keystore local, sin pasar por la API.
func keysCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{Use: "keys", Short: "Administrar las claves de firma"}

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Rotar la clave activa (la anterior queda verificando hasta vencer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("falta el directorio de claves (flag --dir o env AETHER_KEYS_DIR)")
			}
			ks, err := jwt.LoadOrCreate(dir)
			if err != nil {
				return err
			}
			if err := ks.Rotate(); err != nil {
				return err
			}
			kid, _, _, err := ks.Active()
			if err != nil {
				return err
			}
			fmt.Printf("clave rotada, kid activo: %s\n", kid)
			return nil
		},
	}
	rotate.Flags().StringVar(&dir, "dir", os.Getenv("AETHER_KEYS_DIR"), "directorio del keystore")
	cmd.AddCommand(rotate)

	return cmd
}
