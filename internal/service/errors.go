package service

import "errors"

var (
	ErrUnauthenticated        = errors.New("user is not authenticated")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrCheckoutNotFound       = errors.New("checkout not found")
	ErrPaymentNotReady        = errors.New("checkout is not awaiting gateway payment")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrMissingToken           = errors.New("missing payment token")
	ErrSessionCreationFailed  = errors.New("payment session creation failed")
	ErrConfirmationFailed     = errors.New("payment confirmation failed")
	ErrPaymentDeclined        = errors.New("payment declined")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrPaymentSessionNotFound = errors.New("payment session not found")
	ErrPaymentSessionClosed   = errors.New("payment session is closed")
)

// user-facing notice texts
const (
	msgLoginRequired  = "Por favor, inicia sesión para agregar productos al carrito"
	msgItemAdded      = "%s agregado al carrito"
	msgItemRemoved    = "Producto eliminado del carrito"
	msgCartCleared    = "Carrito vaciado"
	msgCartSaveFailed = "No pudimos guardar tu carrito"
	msgSessionFailed  = "Error al iniciar el pago"
	msgPaymentSuccess = "Pago realizado con éxito"
	msgPaymentError   = "Error al confirmar el pago"
	msgOrderSubmitted = "Pedido recibido"
)
