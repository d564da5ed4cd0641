// Command tokvault-cli manages orders and download tokens on a tokvault-server.
//
// Usage:
//
//	tokvault-cli auth issue --secret $AUTH_SECRET --role service
//	tokvault-cli order create --user u-1 --item ebook-1:Go Book:1:1999
//	tokvault-cli order status ord-... completed --payment-id pay-1
//	tokvault-cli token inspect tvdl_...
//	tokvault-cli download https://dl.example.com/download/tvdl_...
package main
