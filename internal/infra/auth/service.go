package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/toolgate/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// Service выдает операторские токены. Учетная запись оператора задается
// конфигом: коллектор обслуживает одну команду, справочник пользователей
// тут избыточен
type Service struct {
	BaseValidator

	operator   domain.Operator
	privateKey *rsa.PrivateKey
}

func NewService(operator domain.Operator, privateKey *rsa.PrivateKey) *Service {
	return &Service{
		BaseValidator: BaseValidator{publicKey: &privateKey.PublicKey},
		operator:      operator,
		privateKey:    privateKey,
	}
}

func (s *Service) GenerateToken(username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация
	if username != s.operator.Username {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(s.operator.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims
	expiresAt := time.Now().Add(time.Hour * 24)
	claims := &domain.CustomClaims{
		UserID: s.operator.ID,
		Scopes: s.operator.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "toolgate-collector",
			Subject:   s.operator.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
