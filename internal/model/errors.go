// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, external, consistency, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth        = "auth"
	CategoryValidation  = "validation"
	CategoryExternal    = "external"
	CategoryConsistency = "consistency"
	CategorySystem      = "system"
)

// 定義済みエラーコード
const (
	ErrCodeSessionInvalid        = "SESSION_INVALID"
	ErrCodeDoctorSessionInvalid  = "DOCTOR_SESSION_INVALID"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeProfileNotFound       = "PROFILE_NOT_FOUND"
	ErrCodeValidation            = "VALIDATION_FAILED"
	ErrCodeInvalidLevel          = "INVALID_LEVEL"
	ErrCodeEmailTaken            = "EMAIL_TAKEN"
	ErrCodePatientCreationFailed = "PATIENT_CREATION_FAILED"
	ErrCodeProfileCreationFailed = "PROFILE_CREATION_FAILED"
	ErrCodeSessionRestoreFailed  = "SESSION_RESTORE_FAILED"
	ErrCodeRollbackFailed        = "ROLLBACK_FAILED"
	ErrCodeSignUpIncomplete      = "SIGN_UP_INCOMPLETE"
	ErrCodeReadingSaveFailed     = "READING_SAVE_FAILED"
	ErrCodeServiceKeyInvalid     = "SERVICE_KEY_INVALID"
)

// IsConsistencyError はerrが運用者の対応を要する不整合エラーかどうかを返す。
func IsConsistencyError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == CategoryConsistency
}

// NewSessionInvalidError はセッション無効エラーを生成する。
func NewSessionInvalidError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionInvalid,
		Message:  fmt.Sprintf("session invalid: %s", reason),
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewDoctorSessionInvalidError は医師セッション無効エラーを生成する。
// 変更系の処理を一切行う前に返される。
func NewDoctorSessionInvalidError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeDoctorSessionInvalid,
		Message:  fmt.Sprintf("doctor session invalid: %s", reason),
		Category: CategoryAuth,
		Action:   "医師アカウントでログインし直してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "invalid email or password",
		Category: CategoryAuth,
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewForbiddenError は行レベルの可視性ルール違反エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("access denied: %s", reason),
		Category: CategoryAuth,
		Action:   "この操作を行う権限があるアカウントでログインしてください。",
	}
}

// NewProfileNotFoundError はプロフィール未作成エラーを生成する。
func NewProfileNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("profile not found: %s", id),
		Category: CategoryAuth,
		Action:   "アカウント登録が完了しているか確認してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("validation failed: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidLevelError は血糖値の形式エラーを生成する。
func NewInvalidLevelError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLevel,
		Message:  fmt.Sprintf("invalid level: %q", raw),
		Category: CategoryValidation,
		Action:   "血糖値はmg/dL単位の正の整数で入力してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  fmt.Sprintf("email already registered: %s", email),
		Category: CategoryExternal,
		Action:   "別のメールアドレスを使用してください。",
	}
}

// NewPatientCreationFailedError は患者アカウント作成失敗エラーを生成する。
// この時点ではまだ何も作成されていない。
func NewPatientCreationFailedError(providerMessage string) *APIError {
	return &APIError{
		Code:     ErrCodePatientCreationFailed,
		Message:  fmt.Sprintf("patient creation failed: %s", providerMessage),
		Category: CategoryExternal,
		Action:   "メールアドレスとパスワードを確認して再度お試しください。",
	}
}

// NewProfileCreationFailedError はアカウント作成後のプロフィール作成失敗エラーを生成する。
// identityIDのアカウントはプロフィールを持たない状態で残っている。
func NewProfileCreationFailedError(identityID, storeMessage string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileCreationFailed,
		Message:  fmt.Sprintf("profile creation failed for identity %s: %s", identityID, storeMessage),
		Category: CategoryConsistency,
		Action:   "プロフィールのないアカウントが残っています。管理者に連絡してください。",
	}
}

// NewProfileCreationRolledBackError はプロフィール作成に失敗し、
// 作成済みアカウントの削除（ロールバック）に成功した場合のエラーを生成する。
func NewProfileCreationRolledBackError(storeMessage string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileCreationFailed,
		Message:  fmt.Sprintf("profile creation failed (account rolled back): %s", storeMessage),
		Category: CategoryExternal,
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewSessionRestoreFailedError は患者作成後に医師セッションの復元に失敗したエラーを生成する。
func NewSessionRestoreFailedError(patientID, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionRestoreFailed,
		Message:  fmt.Sprintf("patient created but doctor session lost (patient %s): %s", patientID, reason),
		Category: CategoryConsistency,
		Action:   "医師アカウントで再度ログインしてください。",
	}
}

// NewRollbackFailedError は補償処理（アカウント削除）が全試行で失敗したエラーを生成する。
func NewRollbackFailedError(identityID, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRollbackFailed,
		Message:  fmt.Sprintf("profile creation failed and rollback of identity %s failed: %s", identityID, reason),
		Category: CategoryConsistency,
		Action:   "プロフィールのないアカウントが残っています。管理者に連絡してください。",
	}
}

// NewSignUpIncompleteError はアカウント作成後のセッション発行に失敗し、
// 作成済みidentityの削除にも失敗したエラーを生成する。
func NewSignUpIncompleteError(identityID, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSignUpIncomplete,
		Message:  fmt.Sprintf("sign-up failed after identity %s was created and could not be undone: %s", identityID, reason),
		Category: CategoryConsistency,
		Action:   "プロフィールのないアカウントが残っています。管理者に連絡してください。",
	}
}

// NewReadingSaveFailedError は測定値の保存失敗エラーを生成する。
func NewReadingSaveFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeReadingSaveFailed,
		Message:  fmt.Sprintf("failed to save reading: %s", reason),
		Category: CategoryExternal,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewServiceKeyInvalidError はサービスロールキー不一致エラーを生成する。
func NewServiceKeyInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceKeyInvalid,
		Message:  "service role key is missing or invalid",
		Category: CategorySystem,
		Action:   "サーバー設定（SERVICE_ROLE_KEY）を確認してください。",
	}
}
